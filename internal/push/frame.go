// Package push carries progress and status notifications from the task
// server to its clients over a websocket.
package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/knaw-huc/editem/internal/models"
)

// Frame event names.
const (
	EventProgress     = "progress"
	EventStatus       = "status"
	EventAfterConnect = "after connect"
)

// ErrUnknownFrame is returned when decoding a frame with an unknown event.
var ErrUnknownFrame = errors.New("unknown frame")

// Frame is one websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ProgressData is the payload of a progress frame.
type ProgressData struct {
	TM      string `json:"tm,omitempty"`
	Project string `json:"pid,omitempty"`
	Task    string `json:"task"`
	Kind    string `json:"kind"`
	Text    string `json:"text"`
}

// StatusData is the payload of a status frame.
type StatusData struct {
	TM      string `json:"tm,omitempty"`
	Project string `json:"pid,omitempty"`
	Task    string `json:"task"`
	Stat    string `json:"stat"`
	Msg     string `json:"msg,omitempty"`
}

// Greeting is the payload of the frame sent when a client connects.
type Greeting struct {
	Data string `json:"data"`
}

// Event converts the payload into a progress event.
func (p ProgressData) Event() models.ProgressEvent {
	return models.ProgressEvent{
		Project:    p.Project,
		Task:       p.Task,
		Severity:   models.Severity(p.Kind),
		Text:       p.Text,
		ServerTime: p.TM,
	}
}

// Event converts the payload into a pushed status event.
func (s StatusData) Event() models.StatusEvent {
	return models.StatusEvent{
		Project:    s.Project,
		Task:       s.Task,
		Kind:       models.ParseKind(s.Stat),
		Raw:        s.Stat,
		ServerTime: s.TM,
		Message:    s.Msg,
	}
}

// NewFrame wraps a payload.
func NewFrame(event string, data interface{}) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// Message is a decoded frame. Exactly one field is set.
type Message struct {
	Status   *models.StatusEvent
	Progress *models.ProgressEvent
	Greeting string
}

// Decode parses one websocket text message.
func Decode(b []byte) (Message, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventProgress:
		var d ProgressData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Message{}, fmt.Errorf("decode progress: %w", err)
		}
		ev := d.Event()
		return Message{Progress: &ev}, nil
	case EventStatus:
		var d StatusData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Message{}, fmt.Errorf("decode status: %w", err)
		}
		ev := d.Event()
		return Message{Status: &ev}, nil
	case EventAfterConnect:
		var g Greeting
		if err := json.Unmarshal(f.Data, &g); err != nil {
			return Message{}, fmt.Errorf("decode greeting: %w", err)
		}
		return Message{Greeting: g.Data}, nil
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Event)
}
