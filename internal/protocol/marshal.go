package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyEvent is returned for frames without an event name.
var ErrEmptyEvent = errors.New("frame has no event name")

// Pool of buffers to avoid allocation and ensure thread safety
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Marshal serializes an outbound frame. A nil payload produces a frame
// without data.
func Marshal(event string, payload interface{}) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}

	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		frame.Data = data
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame); err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}

	// Create a copy to avoid aliasing the pooled buffer
	out := make([]byte, len(bytes.TrimRight(buf.Bytes(), "\n")))
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes an inbound frame.
func Unmarshal(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, ErrEmptyEvent
	}
	return f, nil
}
