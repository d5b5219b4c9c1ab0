package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrEmptyFrame marks a frame with no tag byte.
	ErrEmptyFrame = errors.New("realtime: empty frame")
	// ErrUnknownTag marks a tag byte outside the protocol range.
	ErrUnknownTag = errors.New("realtime: unknown frame tag")
)

// Tag identifies the kind of payload a frame carries. Every frame on the
// channel is one tag byte followed by the payload bytes, so unrelated message
// kinds multiplex over a single websocket.
type Tag byte

const (
	// TagSync carries an opaque replica update in either direction.
	TagSync Tag = iota
	// TagCursor carries one client's caret position.
	TagCursor
	// TagPing carries the heartbeat round trip used for latency sampling.
	TagPing
	// TagConfig carries the timing payload, pushed once after open.
	TagConfig
	// TagRender carries freshly rendered preview HTML.
	TagRender
	// TagRenderRequest asks the server to re-render if content changed.
	TagRenderRequest
)

func (t Tag) String() string {
	switch t {
	case TagSync:
		return "sync"
	case TagCursor:
		return "cursor"
	case TagPing:
		return "ping"
	case TagConfig:
		return "config"
	case TagRender:
		return "render"
	case TagRenderRequest:
		return "render_request"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// EncodeFrame prefixes payload with the tag byte.
func EncodeFrame(tag Tag, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, byte(tag))
	return append(frame, payload...)
}

// DecodeFrame splits a raw frame into its tag and payload. The payload slice
// aliases the input.
func DecodeFrame(frame []byte) (Tag, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	tag := Tag(frame[0])
	if tag > TagRenderRequest {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownTag, frame[0])
	}
	return tag, frame[1:], nil
}

// CursorPayload is the body of a TagCursor frame. Clients send line, column
// and rune offset; the hub stamps identity before rebroadcasting so peers can
// label the caret. Cleared announces a departed caret.
type CursorPayload struct {
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Offset   int    `json:"offset"`
	ClientID string `json:"clientId,omitempty"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
	Cleared  bool   `json:"cleared,omitempty"`
}

// Validate rejects carets that cannot exist in any document.
func (p CursorPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Line, validation.Min(1).Error("line starts at 1")),
		validation.Field(&p.Col, validation.Min(1).Error("column starts at 1")),
		validation.Field(&p.Offset, validation.Min(0).Error("offset cannot be negative")),
	)
}

// PingPayload is the body of a TagPing frame. The client stamps ClientTime;
// the server echoes the frame back with the latency it measured on the
// previous round trip.
type PingPayload struct {
	ClientTime int64 `json:"clientTime"`
	Latency    int64 `json:"latency,omitempty"`
}

// Validate rejects heartbeats with no client timestamp.
func (p PingPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ClientTime, validation.Required.Error("clientTime is required")),
		validation.Field(&p.Latency, validation.Min(0).Error("latency cannot be negative")),
	)
}

// RenderPayload is the body of a TagRender frame.
type RenderPayload struct {
	HTML string `json:"html"`
}

func decodePayload(payload []byte, into interface{ Validate() error }) error {
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("realtime: decode payload: %w", err)
	}
	return into.Validate()
}
