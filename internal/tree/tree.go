// Package tree maintains a lazily-expanded view of the workspace
// directory structure and keeps it reconciled with the filesystem.
package tree

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

var (
	// ErrCreationInProgress is returned when a second creation
	// placeholder is requested before the first resolves.
	ErrCreationInProgress = errors.New("a node creation is already in progress")
	// ErrNotExpanded is returned for operations that require an
	// expanded folder.
	ErrNotExpanded = errors.New("folder is not expanded")
)

// Node is one entry in the workspace tree. The relative path doubles as
// the stable identity, so a refresh of a folder never changes the ids
// of entries that survived it.
type Node struct {
	ID       string
	Name     string
	Path     string // workspace-relative, "." for the root
	IsFolder bool
	Children []Node // nil until expanded
}

// Store is the session's tree state: which folders are expanded, their
// cached listings, and the single in-flight creation placeholder.
type Store struct {
	mu       sync.Mutex
	guard    workspace.Guard
	expanded map[string]bool
	children map[string][]Node
	creating *creation
	suppress int
	deferred map[string]bool
	logger   *log.Logger
}

type creation struct {
	parent   string
	isFolder bool
}

func NewStore(guard workspace.Guard, logger *log.Logger) *Store {
	return &Store{
		guard:    guard,
		expanded: make(map[string]bool),
		children: make(map[string][]Node),
		deferred: make(map[string]bool),
		logger:   logger,
	}
}

// SetGuard points the store at a new workspace root and discards all
// cached state from the previous one.
func (s *Store) SetGuard(guard workspace.Guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
	s.expanded = make(map[string]bool)
	s.children = make(map[string][]Node)
	s.deferred = make(map[string]bool)
	s.creating = nil
}

// Root returns the root node. Its children reflect the cached listing
// if the root is expanded.
func (s *Store) Root() Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := Node{
		ID:       ".",
		Name:     filepath.Base(s.guard.Root()),
		Path:     ".",
		IsFolder: true,
	}
	if s.expanded["."] {
		node.Children = s.childrenLocked(".")
	}
	return node
}

// Expand lists a folder's children, caches them, and marks the folder
// expanded. Expanding an already-expanded folder re-reads the disk.
func (s *Store) Expand(dir string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes, err := s.listLocked(dir)
	if err != nil {
		return nil, err
	}
	s.expanded[normalize(dir)] = true
	s.children[normalize(dir)] = nodes
	return s.childrenLocked(dir), nil
}

// Collapse drops a folder's cached listing. State cached for folders
// underneath it is dropped too, so a later re-expand starts fresh.
func (s *Store) Collapse(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(dir)
	delete(s.expanded, key)
	delete(s.children, key)
	prefix := key + "/"
	if key == "." {
		prefix = ""
	}
	for sub := range s.expanded {
		if sub != key && strings.HasPrefix(sub, prefix) {
			delete(s.expanded, sub)
			delete(s.children, sub)
		}
	}
}

// IsExpanded reports whether a folder currently shows its children.
func (s *Store) IsExpanded(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded[normalize(dir)]
}

// Refresh re-reads an expanded folder from disk. Collapsed folders are
// ignored. While refreshes are suspended the request is remembered and
// replayed on resume; repeated requests for the same folder collapse
// into one.
func (s *Store) Refresh(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(dir)
}

func (s *Store) refreshLocked(dir string) error {
	key := normalize(dir)
	if !s.expanded[key] {
		return nil
	}
	if s.suppress > 0 {
		s.deferred[key] = true
		return nil
	}
	nodes, err := s.listLocked(key)
	if err != nil {
		// The folder may have been deleted out from under us.
		if os.IsNotExist(err) {
			delete(s.expanded, key)
			delete(s.children, key)
			return nil
		}
		return err
	}
	s.children[key] = nodes
	return nil
}

// Suspend pauses refreshes, e.g. while the user is mid-rename and a
// redraw would discard their input. Calls nest; Resume replays any
// refreshes that arrived in between.
func (s *Store) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppress++
}

func (s *Store) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSuppressLocked()
}

// BeginCreate stages a creation placeholder under the given expanded
// folder. Only one placeholder may exist at a time.
func (s *Store) BeginCreate(parent string, isFolder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creating != nil {
		return ErrCreationInProgress
	}
	key := normalize(parent)
	if !s.expanded[key] {
		return ErrNotExpanded
	}
	s.creating = &creation{parent: key, isFolder: isFolder}
	s.suppress++
	return nil
}

// CommitCreate turns the staged placeholder into a real file or folder
// on disk, then refreshes the parent.
func (s *Store) CommitCreate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creating == nil {
		return errors.New("no creation in progress")
	}
	staged := s.creating
	s.creating = nil
	s.endSuppressLocked()

	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	abs, err := s.guard.Resolve(path.Join(staged.parent, name))
	if err != nil {
		return err
	}
	if staged.isFolder {
		err = os.Mkdir(abs, 0o755)
	} else {
		var f *os.File
		if f, err = os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err == nil {
			err = f.Close()
		}
	}
	if err != nil {
		return err
	}
	return s.refreshLocked(staged.parent)
}

// CancelCreate discards the staged placeholder.
func (s *Store) CancelCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creating == nil {
		return
	}
	s.creating = nil
	s.endSuppressLocked()
}

// CreatePending reports whether a creation placeholder is staged.
func (s *Store) CreatePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creating != nil
}

// Rename renames a node on disk, then refreshes its parent folder.
func (s *Store) Rename(rel, newName string) error {
	if newName == "" || strings.ContainsAny(newName, `/\`) {
		return fmt.Errorf("invalid name %q", newName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	oldAbs, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	parent := parentOf(rel)
	newAbs, err := s.guard.Resolve(path.Join(parent, newName))
	if err != nil {
		return err
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return err
	}
	s.dropSubtreeLocked(rel)
	return s.refreshLocked(parent)
}

// Delete removes a node (recursively for folders), then refreshes its
// parent folder.
func (s *Store) Delete(rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	abs, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	if normalize(rel) == "." {
		return errors.New("refusing to delete the workspace root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return err
	}
	s.dropSubtreeLocked(rel)
	return s.refreshLocked(parentOf(rel))
}

// Move relocates a node into another folder, then refreshes both the
// old and the new parent.
func (s *Store) Move(rel, destDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srcAbs, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	dstAbs, err := s.guard.Resolve(path.Join(normalize(destDir), path.Base(normalize(rel))))
	if err != nil {
		return err
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return err
	}
	s.dropSubtreeLocked(rel)
	if err := s.refreshLocked(parentOf(rel)); err != nil {
		return err
	}
	return s.refreshLocked(destDir)
}

// Render draws the expanded portions of the tree as indented text.
func (s *Store) Render() string {
	root := s.Root()
	var b strings.Builder
	b.WriteString(root.Name)
	b.WriteByte('\n')
	s.renderChildren(&b, root.Children, 1)
	return b.String()
}

func (s *Store) renderChildren(b *strings.Builder, nodes []Node, depth int) {
	for _, n := range nodes {
		b.WriteString(strings.Repeat("  ", depth))
		if n.IsFolder {
			b.WriteString(n.Name)
			b.WriteByte('/')
		} else {
			b.WriteString(n.Name)
		}
		b.WriteByte('\n')
		if n.IsFolder && len(n.Children) > 0 {
			s.renderChildren(b, n.Children, depth+1)
		}
	}
}

// childrenLocked assembles the cached listing of dir, attaching cached
// grandchildren for folders that are themselves expanded.
func (s *Store) childrenLocked(dir string) []Node {
	cached := s.children[normalize(dir)]
	out := make([]Node, len(cached))
	for i, n := range cached {
		if n.IsFolder && s.expanded[n.Path] {
			n.Children = s.childrenLocked(n.Path)
		}
		out[i] = n
	}
	return out
}

func (s *Store) listLocked(dir string) ([]Node, error) {
	key := normalize(dir)
	abs, err := s.guard.Resolve(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		rel := path.Join(key, e.Name())
		nodes = append(nodes, Node{
			ID:       rel,
			Name:     e.Name(),
			Path:     rel,
			IsFolder: e.IsDir(),
		})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsFolder != nodes[j].IsFolder {
			return nodes[i].IsFolder
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

func (s *Store) dropSubtreeLocked(rel string) {
	key := normalize(rel)
	delete(s.expanded, key)
	delete(s.children, key)
	prefix := key + "/"
	for sub := range s.expanded {
		if strings.HasPrefix(sub, prefix) {
			delete(s.expanded, sub)
			delete(s.children, sub)
		}
	}
}

func (s *Store) endSuppressLocked() {
	if s.suppress > 0 {
		s.suppress--
	}
	if s.suppress == 0 {
		for dir := range s.deferred {
			delete(s.deferred, dir)
			if err := s.refreshLocked(dir); err != nil && s.logger != nil {
				s.logger.Printf("deferred refresh of %s failed: %v", dir, err)
			}
		}
	}
}

func normalize(rel string) string {
	cleaned := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if cleaned == "" || cleaned == "/" {
		return "."
	}
	return strings.TrimPrefix(cleaned, "./")
}

func parentOf(rel string) string {
	dir := path.Dir(normalize(rel))
	if dir == "" {
		return "."
	}
	return dir
}
