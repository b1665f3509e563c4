package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Recognized frame types. Anything else is an application frame; an
// application frame carrying a request_id is a correlated reply.
const (
	TypePing            = "PING"
	TypePong            = "PONG"
	TypeExtensionReady  = "EXTENSION_READY"
	TypeWorkerReady     = "WORKER_READY"
	TypeChatOutput      = "CHATGPT_OUTPUT"
	TypeScriptGenerated = "SCRIPT_GENERATED"
)

// ErrBadFrame is returned for frames that cannot be parsed or that lack a
// type tag. Such frames are dropped; the connection survives.
var ErrBadFrame = errors.New("relay: bad frame")

// Frame is one line-delimited JSON message exchanged with a client.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ParseFrame decodes and validates a raw inbound frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	}
	return f, nil
}

// Encode marshals the frame for the wire. Frames are built from known-good
// fields, so failure here would be a programming error.
func (f Frame) Encode() []byte {
	b, err := json.Marshal(f)
	if err != nil {
		panic(fmt.Sprintf("relay: encode frame: %v", err))
	}
	return b
}

// IsCorrelated reports whether the frame is a reply to an outstanding
// request.
func (f Frame) IsCorrelated() bool { return f.RequestID != "" }

// IsReady reports whether the frame is a readiness signal.
func (f Frame) IsReady() bool {
	return f.Type == TypeExtensionReady || f.Type == TypeWorkerReady
}

// NewPing builds a liveness probe frame.
func NewPing() Frame { return Frame{Type: TypePing} }

// NewPong builds the probe answer.
func NewPong() Frame { return Frame{Type: TypePong} }

// NewScriptGenerated wraps chat output for rebroadcast to the other
// connected clients.
func NewScriptGenerated(output json.RawMessage) Frame {
	wrapped, err := json.Marshal(map[string]json.RawMessage{"script": output})
	if err != nil {
		wrapped = []byte(`{}`)
	}
	return Frame{Type: TypeScriptGenerated, Payload: wrapped}
}

// Command is the producer-enqueued unit the dispatcher delivers.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TaskID  string          `json:"task_id,omitempty"`
}

// ErrBadCommand marks a queue entry that cannot be decoded into a Command.
var ErrBadCommand = errors.New("relay: bad command")

// ParseCommand decodes and validates a queue entry.
func ParseCommand(raw []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if c.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrBadCommand)
	}
	return c, nil
}
