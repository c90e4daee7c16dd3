package handlers

import (
	"fmt"
	"net/http"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flush")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &sseWriter{
		w:       w,
		flusher: flusher,
	}, nil
}

func (s *sseWriter) writeEvent(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("sse write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeDone() error {
	if _, err := s.w.Write([]byte("data: [DONE]\n\n")); err != nil {
		return fmt.Errorf("sse write done: %w", err)
	}
	s.flusher.Flush()
	return nil
}
