package tasks

import (
	"encoding/json"
	"testing"

	"github.com/rzbill/relay/internal/relay"
)

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f, err := newCELFilter("")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Eval(relay.Frame{Type: "ANYTHING"}) {
		t.Fatalf("disabled filter rejected a frame")
	}
}

func TestFilterByType(t *testing.T) {
	f, err := newCELFilter(`type == "CHATGPT_OUTPUT"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Eval(relay.Frame{Type: "CHATGPT_OUTPUT"}) {
		t.Fatalf("matching frame rejected")
	}
	if f.Eval(relay.Frame{Type: "STATUS_REPORT"}) {
		t.Fatalf("non-matching frame accepted")
	}
}

func TestFilterByJSONField(t *testing.T) {
	f, err := newCELFilter(`json.level == "error"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !f.Eval(relay.Frame{Type: "X", Payload: json.RawMessage(`{"level":"error"}`)}) {
		t.Fatalf("matching payload rejected")
	}
	if f.Eval(relay.Frame{Type: "X", Payload: json.RawMessage(`{"level":"info"}`)}) {
		t.Fatalf("non-matching payload accepted")
	}
	// Missing field evaluates to an error, which reads as no-match.
	if f.Eval(relay.Frame{Type: "X", Payload: json.RawMessage(`{}`)}) {
		t.Fatalf("missing field accepted")
	}
}

func TestBadExpressionRejectedAtCompile(t *testing.T) {
	if _, err := newCELFilter(`type ==`); err == nil {
		t.Fatalf("invalid expression compiled")
	}
}
