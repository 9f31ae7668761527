package controllers

import (
	"encoding/json"
	"net/http"
)

// sseSink writes received messages as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

// Send writes one message as a "message" event.
func (s sseSink) Send(m messageJSON) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.event("message", b)
}

// SendError writes a terminal "error" event.
func (s sseSink) SendError(err error) error {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	if werr := s.event("error", b); werr != nil {
		return werr
	}
	return s.Flush()
}

func (s sseSink) event(name string, data []byte) error {
	if _, err := s.w.Write([]byte("event: " + name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err := s.w.Write([]byte("\n\n"))
	return err
}

// Flush flushes the HTTP response writer if it supports flushing.
//
// This ensures that SSE events are immediately sent to the client.
func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
