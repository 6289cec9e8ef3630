// Package transcript converts a line-delimited assistant transcript into
// an ordered sequence of Turns. It is pure: the only I/O is the
// io.Reader the caller supplies (the Recorder resolves the file).
package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// maxLineSize raises bufio.Scanner's default 64KiB token limit — tool
// result dumps (file reads, command output) routinely exceed it.
const maxLineSize = 4 * 1024 * 1024

// RecordType tags a single line of the transcript.
type RecordType string

const (
	RecordUser      RecordType = "user"
	RecordAssistant RecordType = "assistant"
	RecordToolUse   RecordType = "tool_use"
	RecordToolResult RecordType = "tool_result"
	RecordMeta      RecordType = "meta"
)

// record is the wire shape of one transcript line.
type record struct {
	Type      RecordType      `json:"type"`
	Text      string          `json:"text"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
	ToolOutput string         `json:"toolOutput"`
	IsError   bool            `json:"isError"`
	Model     string          `json:"model"`
	Timestamp time.Time       `json:"timestamp"`
}

// ToolInvocation is one tool_use/tool_result pair within a turn's
// assistant response.
type ToolInvocation struct {
	Name      string
	Input     json.RawMessage
	Output    string
	IsError   bool
}

// ParsedTurn is one user message together with the contiguous assistant
// response — possibly empty, for a trailing unanswered prompt.
type ParsedTurn struct {
	TurnNumber      int
	UserMessage     string
	AssistantText   string
	ModelName       string
	ToolNames       []string
	ToolInvocations []ToolInvocation
	StartedAt       time.Time
	EndedAt         time.Time
}

// Result is the parser's output: turns in order plus a count of lines
// that could not be interpreted.
type Result struct {
	Turns        []ParsedTurn
	SkippedLines int
}

// Parse reads a line-delimited transcript and groups it into Turns. A
// malformed line increments SkippedLines and is otherwise ignored;
// parsing never aborts for a single bad line.
func Parse(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		result  Result
		current *ParsedTurn
	)

	flush := func() {
		if current != nil {
			result.Turns = append(result.Turns, *current)
			current = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			result.SkippedLines++
			continue
		}

		switch rec.Type {
		case RecordUser:
			flush()
			current = &ParsedTurn{
				TurnNumber:  len(result.Turns) + 1,
				UserMessage: rec.Text,
				StartedAt:   rec.Timestamp,
				EndedAt:     rec.Timestamp,
			}

		case RecordAssistant:
			if current == nil {
				// Assistant output with no preceding user message: not a
				// valid turn boundary, skip per §4.C's "malformed lines
				// are skipped and counted."
				result.SkippedLines++
				continue
			}
			current.AssistantText += rec.Text
			if rec.Model != "" {
				current.ModelName = rec.Model
			}
			current.EndedAt = rec.Timestamp

		case RecordToolUse:
			if current == nil {
				result.SkippedLines++
				continue
			}
			current.ToolNames = append(current.ToolNames, rec.ToolName)
			current.ToolInvocations = append(current.ToolInvocations, ToolInvocation{
				Name:  rec.ToolName,
				Input: rec.ToolInput,
			})
			current.EndedAt = rec.Timestamp

		case RecordToolResult:
			if current == nil || len(current.ToolInvocations) == 0 {
				result.SkippedLines++
				continue
			}
			last := &current.ToolInvocations[len(current.ToolInvocations)-1]
			last.Output = rec.ToolOutput
			last.IsError = rec.IsError
			current.EndedAt = rec.Timestamp

		case RecordMeta:
			// Session-level metadata the Recorder reads separately; not
			// part of any turn.

		default:
			result.SkippedLines++
		}
	}

	flush()

	if err := scanner.Err(); err != nil {
		return result, err
	}
	return result, nil
}
