// Package marker carries structured control payloads inside a plain-text
// stream. Tool progress and proposed edits are wrapped between explicit
// textual delimiters so a single incremental text channel can serve prose,
// status updates and diffs at once.
package marker

import (
	"encoding/json"
	"strings"
)

const (
	statusOpen  = "[TOOL_STATUS]"
	statusClose = "[/TOOL_STATUS]"
	diffOpen    = "[DIFF_BLOCK]"
	diffClose   = "[/DIFF_BLOCK]"
)

// Status values for ToolStatus records.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolStatus reports progress of one tool invocation. A later record with the
// same ID supersedes the earlier one; it is never a new entity.
type ToolStatus struct {
	ID       string `json:"id"`
	ToolName string `json:"tool"`
	Path     string `json:"path,omitempty"`
	Status   string `json:"status"`
	Summary  string `json:"summary,omitempty"`
}

// Proposal is an edit awaiting human approval. Kind is "write" or "patch".
type Proposal struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	TargetPath      string `json:"path"`
	BaseContent     string `json:"base_content"`
	ProposedContent string `json:"proposed_content"`
}

// EncodeStatus wraps a status record between its delimiter pair.
func EncodeStatus(s ToolStatus) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return statusOpen + string(data) + statusClose
}

// EncodeProposal wraps a proposal between its delimiter pair.
func EncodeProposal(p Proposal) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return diffOpen + string(data) + diffClose
}

// Decoded is the result of one decode pass over an accumulated text buffer.
type Decoded struct {
	Prose     string
	Statuses  []ToolStatus
	Proposals []Proposal
}

// Decode scans the buffer for complete delimiter pairs, extracts their
// payloads and strips the matched spans from the prose. It is meant to be
// re-run after every incremental append: decoding a longer prefix of the same
// stream reproduces every previously seen payload plus newly completed ones.
// Duplicated status ids collapse to the latest occurrence; duplicated
// proposal ids keep the first. An unterminated marker at the tail stays in
// the prose and completes on a later pass. Payload bodies that fail to parse
// are dropped from the structured lists but their raw text is preserved.
func Decode(text string) Decoded {
	var (
		prose       strings.Builder
		statuses    []ToolStatus
		statusIdx   = make(map[string]int)
		proposals   []Proposal
		proposalIDs = make(map[string]bool)
	)

	rest := text
	for {
		kind, start := nextOpener(rest)
		if start < 0 {
			prose.WriteString(rest)
			break
		}
		prose.WriteString(rest[:start])
		span := rest[start:]

		var open, close string
		if kind == "status" {
			open, close = statusOpen, statusClose
		} else {
			open, close = diffOpen, diffClose
		}
		end := strings.Index(span, close)
		if end < 0 {
			// Incomplete pair; keep the tail for the next pass.
			prose.WriteString(span)
			break
		}
		body := span[len(open):end]
		consumed := end + len(close)

		switch kind {
		case "status":
			var s ToolStatus
			if err := json.Unmarshal([]byte(body), &s); err != nil || s.ID == "" {
				prose.WriteString(span[:consumed])
			} else if i, seen := statusIdx[s.ID]; seen {
				statuses[i] = s
			} else {
				statusIdx[s.ID] = len(statuses)
				statuses = append(statuses, s)
			}
		case "proposal":
			var p Proposal
			if err := json.Unmarshal([]byte(body), &p); err != nil || p.ID == "" {
				prose.WriteString(span[:consumed])
			} else if !proposalIDs[p.ID] {
				proposalIDs[p.ID] = true
				proposals = append(proposals, p)
			}
		}
		rest = span[consumed:]
	}

	return Decoded{
		Prose:     prose.String(),
		Statuses:  statuses,
		Proposals: proposals,
	}
}

// StripMarkers returns only the clean prose of a buffer.
func StripMarkers(text string) string {
	return Decode(text).Prose
}

// nextOpener finds the earliest opening delimiter of either kind.
func nextOpener(text string) (kind string, pos int) {
	si := strings.Index(text, statusOpen)
	di := strings.Index(text, diffOpen)
	switch {
	case si < 0 && di < 0:
		return "", -1
	case di < 0 || (si >= 0 && si < di):
		return "status", si
	default:
		return "proposal", di
	}
}
