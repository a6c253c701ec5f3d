package marker

import (
	"strings"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	status := ToolStatus{ID: "t1", ToolName: "read_file", Path: "main.go", Status: StatusRunning}
	proposal := Proposal{ID: "e1", Kind: "write", TargetPath: "main.go", ProposedContent: "package main\n"}

	text := "thinking about it\n" + EncodeStatus(status) + "more prose " + EncodeProposal(proposal) + "done"
	got := Decode(text)

	if got.Prose != "thinking about it\nmore prose done" {
		t.Fatalf("unexpected prose: %q", got.Prose)
	}
	if len(got.Statuses) != 1 || got.Statuses[0].ID != "t1" || got.Statuses[0].Status != StatusRunning {
		t.Fatalf("unexpected statuses: %+v", got.Statuses)
	}
	if len(got.Proposals) != 1 || got.Proposals[0].ID != "e1" {
		t.Fatalf("unexpected proposals: %+v", got.Proposals)
	}
}

func TestDecodeIncrementalIdempotence(t *testing.T) {
	status := ToolStatus{ID: "t1", ToolName: "edit_file", Status: StatusRunning}
	full := "prefix " + EncodeStatus(status) + " suffix"

	var prevStatuses int
	for i := 0; i <= len(full); i++ {
		got := Decode(full[:i])
		if len(got.Statuses) < prevStatuses {
			t.Fatalf("payload lost at prefix %d", i)
		}
		prevStatuses = len(got.Statuses)
		// An incomplete marker must never leak a payload.
		if i < len(full)-len(" suffix") && len(got.Statuses) > 0 && i < strings.Index(full, statusClose)+len(statusClose) {
			t.Fatalf("payload decoded before its closing delimiter at prefix %d", i)
		}
	}

	final := Decode(full)
	if len(final.Statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(final.Statuses))
	}
	if final.Prose != "prefix  suffix" {
		t.Fatalf("unexpected prose: %q", final.Prose)
	}
}

func TestDecodeStatusSupersedes(t *testing.T) {
	running := ToolStatus{ID: "t1", ToolName: "read_file", Status: StatusRunning}
	done := ToolStatus{ID: "t1", ToolName: "read_file", Status: StatusSuccess, Summary: "42 lines"}
	other := ToolStatus{ID: "t2", ToolName: "list_directory", Status: StatusRunning}

	text := EncodeStatus(running) + EncodeStatus(other) + EncodeStatus(done)
	got := Decode(text)

	if len(got.Statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got.Statuses))
	}
	if got.Statuses[0].ID != "t1" || got.Statuses[0].Status != StatusSuccess {
		t.Fatalf("later status did not supersede: %+v", got.Statuses[0])
	}
	if got.Statuses[1].ID != "t2" {
		t.Fatalf("order not preserved: %+v", got.Statuses)
	}
}

func TestDecodeProposalDuplicateIsNoop(t *testing.T) {
	p := Proposal{ID: "e1", Kind: "patch", TargetPath: "a.txt", ProposedContent: "x"}
	text := EncodeProposal(p) + EncodeProposal(p)
	got := Decode(text)
	if len(got.Proposals) != 1 {
		t.Fatalf("duplicate proposal not collapsed: %d", len(got.Proposals))
	}
}

func TestDecodeMalformedBodyKeptInProse(t *testing.T) {
	text := "before [TOOL_STATUS]{not json[/TOOL_STATUS] after"
	got := Decode(text)
	if len(got.Statuses) != 0 {
		t.Fatalf("malformed body parsed: %+v", got.Statuses)
	}
	if !strings.Contains(got.Prose, "{not json") {
		t.Fatalf("raw text lost: %q", got.Prose)
	}
}

func TestDecodePartialTailLeftAlone(t *testing.T) {
	text := "prose [DIFF_BLOCK]{\"id\":\"e1\""
	got := Decode(text)
	if len(got.Proposals) != 0 {
		t.Fatalf("partial marker decoded: %+v", got.Proposals)
	}
	if got.Prose != text {
		t.Fatalf("partial tail altered: %q", got.Prose)
	}
}
