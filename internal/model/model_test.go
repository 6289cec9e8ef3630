package model

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackSummarizeTurnTruncatesAndUsesFirstLine(t *testing.T) {
	s := &FallbackService{logger: discardLogger()}

	long := strings.Repeat("x", 500)
	summary, err := s.SummarizeTurn(context.Background(), TurnInput{
		UserMessage:   "fix the login bug\nsome more detail here",
		AssistantText: long,
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Title != "fix the login bug" {
		t.Fatalf("title = %q, want first line only", summary.Title)
	}
	if len(summary.Summary) > fallbackSummaryLen+len("…") {
		t.Fatalf("summary too long: %d chars", len(summary.Summary))
	}
}

func TestFallbackSummarizeTurnFallsBackToUserMessageWhenNoAssistantText(t *testing.T) {
	s := &FallbackService{logger: discardLogger()}
	summary, err := s.SummarizeTurn(context.Background(), TurnInput{UserMessage: "hello there"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Summary != "hello there" {
		t.Fatalf("summary = %q, want %q", summary.Summary, "hello there")
	}
}

func TestFallbackSynthesizeSkillListsOneProcedureStepPerTurn(t *testing.T) {
	s := &FallbackService{logger: discardLogger()}
	draft, err := s.SynthesizeSkill(context.Background(), SkillInput{
		Name: "deploy-flow",
		RelatedTurns: []TurnInput{
			{UserMessage: "run the deploy script"},
			{UserMessage: "check the health endpoint"},
		},
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(draft.Procedure) != 2 {
		t.Fatalf("procedure steps = %d, want 2", len(draft.Procedure))
	}
}

func TestNewReturnsFallbackWhenUnconfigured(t *testing.T) {
	svc := New("", "", discardLogger())
	if _, ok := svc.(*FallbackService); !ok {
		t.Fatalf("New() = %T, want *FallbackService when baseURL/apiKey empty", svc)
	}
}

func TestHTTPServiceSummarizeTurnPostsAndDecodes(t *testing.T) {
	var gotAuth string
	var gotBody summarizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(summarizeResponse{Title: "t", Summary: "s"})
	}))
	defer srv.Close()

	svc := New(srv.URL, "secret-key", discardLogger())
	if _, ok := svc.(*HTTPService); !ok {
		t.Fatalf("New() = %T, want *HTTPService", svc)
	}

	out, err := svc.SummarizeTurn(context.Background(), TurnInput{UserMessage: "hi"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out.Title != "t" || out.Summary != "s" {
		t.Fatalf("got %+v", out)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("Authorization header = %q", gotAuth)
	}
	if gotBody.UserMessage != "hi" {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestHTTPServiceWrapsUnreachableAsErrUnavailable(t *testing.T) {
	svc := New("http://127.0.0.1:1", "key", discardLogger())
	_, err := svc.SummarizeTurn(context.Background(), TurnInput{UserMessage: "hi"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), ErrUnavailable.Error()) {
		t.Fatalf("error = %v, want wrapped ErrUnavailable", err)
	}
}
