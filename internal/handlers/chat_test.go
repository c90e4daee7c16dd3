package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/gpt4free/pollinations"
)

// newTestHandler builds a ChatHandler over a client pointed at the given
// stub upstream.
func newTestHandler(t *testing.T, upstream string) *ChatHandler {
	t.Helper()

	client, err := pollinations.New(pollinations.Config{
		TextBaseURL:  upstream,
		ImageBaseURL: upstream,
		ChatURL:      upstream,
		BaseBackoff:  time.Millisecond,
		Timeout:      5 * time.Second,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewChatHandler(client)
}

func TestChatCompletionNonStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello!"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	body := `{"model":"openai","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ChatCompletion(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var resp pollinations.ChatCompletion
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello!" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestChatCompletionInvalidJSON(t *testing.T) {
	h := newTestHandler(t, "http://upstream.test")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()

	h.ChatCompletion(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatCompletionConfigurationError(t *testing.T) {
	h := newTestHandler(t, "http://upstream.test")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()

	h.ChatCompletion(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", rec.Code)
	}
}

func TestChatCompletionStreamRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"choices":[{"index":0,"delta":{"content":"str"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"eam"}}]}`,
			`[DONE]`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	body := `{"model":"openai","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ChatCompletion(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	var dataLines []string
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}

	if len(dataLines) != 3 {
		t.Fatalf("expected 2 chunks + [DONE], got %d lines: %v", len(dataLines), dataLines)
	}
	if dataLines[len(dataLines)-1] != "[DONE]" {
		t.Fatalf("stream must end with [DONE], got %q", dataLines[len(dataLines)-1])
	}

	var chunk pollinations.ChatChunk
	if err := json.Unmarshal([]byte(dataLines[0]), &chunk); err != nil {
		t.Fatalf("unmarshal first chunk: %v", err)
	}
	if chunk.Choices[0].Delta.Role != pollinations.RoleAssistant {
		t.Fatalf("first relayed chunk missing role marker: %#v", chunk.Choices[0].Delta)
	}
}

func TestImageGeneration(t *testing.T) {
	h := newTestHandler(t, "http://img.test")

	body := `{"prompt":"a sunset","model":"flux","size":"512x512"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ImageGeneration(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var resp pollinations.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 1 || !strings.Contains(resp.Data[0].URL, "width=512") {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestImageGenerationRejectsMultiple(t *testing.T) {
	h := newTestHandler(t, "http://img.test")

	body := `{"prompt":"a sunset","n":3}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ImageGeneration(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for n=3, got %d", rec.Code)
	}
}

func TestListModels(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"openai"},{"name":"mistral"}]`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()

	h.ListModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var out struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Object != "list" || len(out.Data) != 2 || out.Data[0].ID != "openai" {
		t.Fatalf("unexpected model list: %#v", out)
	}
}
