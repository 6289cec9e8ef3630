package format

import (
	"strings"
	"testing"
	"time"

	"github.com/nathanasimon/memoryd/internal/retrieve"
)

func TestFormatEmptyWhenNothingAccepted(t *testing.T) {
	out := Format(nil, DefaultBudget)
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestFormatGroupsByFixedOrder(t *testing.T) {
	items := []retrieve.ContextItem{
		{Kind: retrieve.KindError, Title: "panic in worker", Score: 0.9, Recency: time.Now()},
		{Kind: retrieve.KindFocus, Title: "memoryd", Score: 0.5, Recency: time.Now()},
		{Kind: retrieve.KindTask, Title: "ship the retriever", Score: 0.8, Recency: time.Now(), Metadata: map[string]string{"status": "in_progress"}},
	}

	out := Format(items, DefaultBudget)
	if out == "" {
		t.Fatal("expected non-empty output")
	}

	focusIdx := strings.Index(out, "### Focus")
	taskIdx := strings.Index(out, "### Task")
	errorIdx := strings.Index(out, "### Error")
	if !(focusIdx < taskIdx && taskIdx < errorIdx) {
		t.Fatalf("sections out of order: focus=%d task=%d error=%d\n%s", focusIdx, taskIdx, errorIdx, out)
	}
	if !strings.HasPrefix(out, "## Focus Context") {
		t.Fatalf("missing single heading: %s", out)
	}
}

func TestFormatSkipsItemsOverBudgetButFitsSmallerLaterOnes(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens
	items := []retrieve.ContextItem{
		{Kind: retrieve.KindConversation, Title: "huge", Body: big, Score: 0.99, Recency: time.Now()},
		{Kind: retrieve.KindConversation, Title: "huge2", Body: big, Score: 0.98, Recency: time.Now()},
		{Kind: retrieve.KindTask, Title: "tiny", Score: 0.1, Recency: time.Now()},
	}

	out := Format(items, 1200)
	if !strings.Contains(out, "tiny") {
		t.Fatalf("expected smaller lower-ranked item to still fit: %s", out)
	}
	if strings.Contains(out, "huge2") {
		t.Fatalf("expected second huge item to be skipped: %s", out)
	}
}
