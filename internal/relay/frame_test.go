package relay

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"PONG"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != TypePong || f.IsCorrelated() {
		t.Fatalf("unexpected frame: %+v", f)
	}

	f, err = ParseFrame([]byte(`{"type":"RESULT","request_id":"r1","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.IsCorrelated() || f.RequestID != "r1" {
		t.Fatalf("correlation not detected: %+v", f)
	}
}

func TestParseFrameRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"payload":{}}`),
		[]byte(`{"type":""}`),
	}
	for _, raw := range cases {
		if _, err := ParseFrame(raw); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("input %q: want ErrBadFrame, got %v", raw, err)
		}
	}
}

func TestNewScriptGeneratedWrapsOutput(t *testing.T) {
	f := NewScriptGenerated(json.RawMessage(`"hello"`))
	if f.Type != TypeScriptGenerated {
		t.Fatalf("type: %s", f.Type)
	}
	var body struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body.Script != "hello" {
		t.Fatalf("script: %q", body.Script)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"SEND","payload":{"prompt":"hi"},"task_id":"t1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Type != "SEND" || cmd.TaskID != "t1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if _, err := ParseCommand([]byte(`{}`)); !errors.Is(err, ErrBadCommand) {
		t.Fatalf("want ErrBadCommand, got %v", err)
	}
	if _, err := ParseCommand([]byte(`garbage`)); !errors.Is(err, ErrBadCommand) {
		t.Fatalf("want ErrBadCommand, got %v", err)
	}
}
