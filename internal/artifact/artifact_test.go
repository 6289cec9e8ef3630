package artifact

import (
	"encoding/json"
	"testing"

	"github.com/nathanasimon/memoryd/internal/transcript"
)

func TestExtractDedupsWithinTurn(t *testing.T) {
	turn := transcript.ParsedTurn{
		ToolInvocations: []transcript.ToolInvocation{
			{Name: "Read", Input: json.RawMessage(`{"file_path":"a.go"}`)},
			{Name: "Edit", Input: json.RawMessage(`{"file_path":"a.go"}`)},
			{Name: "Bash", Input: json.RawMessage(`{"command":"go test ./..."}`)},
			{Name: "Bash", Input: json.RawMessage(`{"command":"go test ./foo"}`)},
			{Name: "Bash", Output: "Traceback (most recent call last):\nKeyError: 'x'", IsError: true},
		},
	}

	got := Extract(turn)

	if len(got.Files) != 1 || got.Files[0] != "a.go" {
		t.Errorf("files = %v, want [a.go]", got.Files)
	}
	if len(got.Commands) != 1 || got.Commands[0] != "go" {
		t.Errorf("commands = %v, want [go]", got.Commands)
	}
	if len(got.Errors) != 1 {
		t.Errorf("errors = %v, want 1 entry", got.Errors)
	}
}

func TestExtractErrorSignatureWithoutExplicitFlag(t *testing.T) {
	turn := transcript.ParsedTurn{
		ToolInvocations: []transcript.ToolInvocation{
			{Name: "Bash", Output: "error: undefined reference to foo"},
		},
	}

	got := Extract(turn)
	if len(got.Errors) != 1 {
		t.Errorf("errors = %v, want 1 entry", got.Errors)
	}
}

func TestExtractEmptyTurn(t *testing.T) {
	got := Extract(transcript.ParsedTurn{})
	if len(got.Files) != 0 || len(got.Commands) != 0 || len(got.Errors) != 0 {
		t.Errorf("expected no artifacts, got %+v", got)
	}
}
