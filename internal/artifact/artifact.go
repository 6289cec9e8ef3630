// Package artifact extracts files, commands, and errors from a parsed
// turn's tool invocations (spec §4.D). Pure functions; deterministic
// given identical input.
package artifact

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nathanasimon/memoryd/internal/transcript"
)

// fileTools are tool names whose input carries a file path argument.
var fileTools = map[string]string{
	"Read":  "file_path",
	"Write": "file_path",
	"Edit":  "file_path",
}

// shellTools are tool names that execute a shell command.
var shellTools = map[string]string{
	"Bash": "command",
}

// errorSignatures are substrings in tool output that indicate failure
// even when the transcript did not mark the result as an error,
// compiled once at package init per §4.D.
var errorSignatures = regexp.MustCompile(`(?i)(traceback|error:|exception|panic:)`)

// Extracted holds the deduplicated artifacts pulled from one turn.
type Extracted struct {
	Files    []string
	Commands []string
	Errors   []string
}

// Extract walks every tool invocation in t and returns the deduplicated
// files touched, commands run, and error signatures encountered.
func Extract(t transcript.ParsedTurn) Extracted {
	files := newOrderedSet()
	commands := newOrderedSet()
	errs := newOrderedSet()

	for _, inv := range t.ToolInvocations {
		if field, ok := fileTools[inv.Name]; ok {
			if path := stringField(inv.Input, field); path != "" {
				files.add(path)
			}
		}
		if field, ok := shellTools[inv.Name]; ok {
			if cmd := stringField(inv.Input, field); cmd != "" {
				commands.add(firstToken(cmd))
			}
		}

		if inv.IsError && inv.Output != "" {
			errs.add(strings.TrimSpace(firstLine(inv.Output)))
		}
		if match := errorSignatures.FindString(inv.Output); match != "" {
			errs.add(strings.TrimSpace(firstLine(inv.Output)))
		}
	}

	return Extracted{
		Files:    files.items,
		Commands: commands.items,
		Errors:   errs.items,
	}
}

func stringField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	v, _ := m[field].(string)
	return v
}

func firstToken(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// orderedSet dedups while preserving first-seen order, matching §4.D's
// "duplicates within a turn are collapsed" without disturbing determinism.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (o *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if _, ok := o.seen[v]; ok {
		return
	}
	o.seen[v] = struct{}{}
	o.items = append(o.items, v)
}
