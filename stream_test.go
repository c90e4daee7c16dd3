package pollinations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseServer serves the given lines as one event stream, each already in
// wire form (without the "data: " prefix unless raw is set).
func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if !req.Stream {
			t.Errorf("stream requests must set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not support flushing")
			return
		}
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, stream <-chan StreamResult) []*ChatChunk {
	t.Helper()
	var chunks []*ChatChunk
	for res := range stream {
		if res.Err != nil {
			t.Fatalf("unexpected stream error: %v", res.Err)
		}
		chunks = append(chunks, res.Chunk)
	}
	return chunks
}

func TestStreamRoleOnFirstChunkOnly(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"!"}}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != RoleAssistant {
		t.Fatalf("first chunk missing role marker: %#v", chunks[0].Choices[0].Delta)
	}
	for i, c := range chunks[1:] {
		if c.Choices[0].Delta.Role != "" {
			t.Fatalf("chunk %d carries role marker: %#v", i+1, c.Choices[0].Delta)
		}
	}

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Choices[0].Delta.Content)
	}
	if text.String() != "hello!" {
		t.Fatalf("unexpected assembled text: %q", text.String())
	}
}

func TestStreamRoleSynthesizedWhenServerOmitsIt(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != RoleAssistant {
		t.Fatalf("role marker not synthesized on first chunk")
	}
	if chunks[1].Choices[0].Delta.Role != "" {
		t.Fatalf("role marker repeated on later chunk")
	}
}

func TestStreamFinishMarkerTerminates(t *testing.T) {
	t.Parallel()

	// Lines after the finish-bearing event must never surface.
	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"done"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[{"index":0,"delta":{"content":"ghost"}}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	finishes := 0
	for _, c := range chunks {
		if c.FinishReason() != "" {
			finishes++
		}
	}
	if finishes != 1 {
		t.Fatalf("expected exactly one finish-bearing chunk, got %d", finishes)
	}
	if chunks[len(chunks)-1].FinishReason() != FinishStop {
		t.Fatalf("finish marker not on the last chunk")
	}
}

func TestStreamSentinelYieldsExactChunkCount(t *testing.T) {
	t.Parallel()

	const n = 5
	lines := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":"c%d"}}]}`, i))
	}
	lines = append(lines, `[DONE]`)

	srv := sseServer(t, lines...)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != n {
		t.Fatalf("expected exactly %d chunks, got %d", n, len(chunks))
	}
}

func TestStreamSkipsMalformedEvent(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"before"}}]}`,
		`{this is not json`,
		`{"choices":[{"index":0,"delta":{"content":"after"}}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks around the corrupt line, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Content != "before" || chunks[1].Choices[0].Delta.Content != "after" {
		t.Fatalf("valid chunks lost: %#v", chunks)
	}
}

func TestStreamExhaustionIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"x"}}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	first := collect(t, stream)
	if len(first) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(first))
	}

	// Draining again must terminate immediately with no further chunks.
	again := 0
	for range stream {
		again++
	}
	if again != 0 {
		t.Fatalf("exhausted stream yielded %d extra chunks", again)
	}
}

func TestStreamToolCallAndReasoningFragments(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"Let me think"}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"function":{"arguments":"{\"location\":\"NYC\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "weather in NYC?"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	if chunks[0].Choices[0].Delta.ReasoningContent != "Let me think" {
		t.Fatalf("reasoning fragment lost: %#v", chunks[0].Choices[0].Delta)
	}
	tc := chunks[1].Choices[0].Delta.ToolCalls
	if len(tc) != 1 || tc[0].Function.Name != "get_weather" {
		t.Fatalf("tool call fragment lost: %#v", tc)
	}

	var args strings.Builder
	for _, c := range chunks {
		for _, call := range c.Choices[0].Delta.ToolCalls {
			args.WriteString(call.Function.Arguments)
		}
	}
	if args.String() != `{"location":"NYC"}` {
		t.Fatalf("arguments not assembled: %q", args.String())
	}
	if chunks[3].FinishReason() != FinishToolCalls {
		t.Fatalf("unexpected finish reason: %q", chunks[3].FinishReason())
	}
}

func TestStreamUpstreamErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "")

	stream, err := client.Chat.Completions.CreateStream(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	var got error
	for res := range stream {
		if res.Err != nil {
			got = res.Err
		}
	}

	var apiErr *APIError
	if !errors.As(got, &apiErr) {
		t.Fatalf("expected APIError, got %v", got)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status not preserved: %d", apiErr.StatusCode)
	}
}

func TestStreamCancelStopsIteration(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Chat.Completions.CreateStream(ctx, &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	res := <-stream
	if res.Err != nil || res.Chunk == nil {
		t.Fatalf("expected first chunk, got %#v", res)
	}

	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return // channel closed after cancellation
			}
		case <-deadline:
			t.Fatalf("stream did not terminate after cancellation")
		}
	}
}
