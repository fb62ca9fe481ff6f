package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/psds-microservice/walkin-service/internal/model"
)

// FrameType tags a message on the websocket change stream.
type FrameType string

const (
	// FrameReady is sent once, after the server-side subscription exists.
	// Anything committed after it is delivered.
	FrameReady FrameType = "ready"
	FrameEvent FrameType = "event"
	// FrameError is the last frame before the server ends the stream.
	FrameError FrameType = "error"
)

// Frame is the stream envelope.
type Frame struct {
	Type  FrameType          `json:"type"`
	Scope string             `json:"scope,omitempty"`
	Event *model.ChangeEvent `json:"event,omitempty"`
	Error string             `json:"error,omitempty"`
}

// DecodeFrame parses and checks a stream frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameReady, FrameError:
	case FrameEvent:
		if f.Event == nil {
			return Frame{}, fmt.Errorf("event frame without event")
		}
		if err := f.Event.Validate(); err != nil {
			return Frame{}, err
		}
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}
