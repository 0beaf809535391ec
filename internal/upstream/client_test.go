package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nextlane/antigw/internal/geminiapi"
)

func serverReturning(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func clientWithEndpoints(t *testing.T, urls ...string) *Client {
	t.Helper()
	aliases := make([]string, len(urls))
	for i, u := range urls {
		alias := fmt.Sprintf("test-%d", i)
		aliasBaseURLs[alias] = u
		aliases[i] = alias
	}
	c, err := NewClient(NewTunedHTTPClient(), aliases, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestGenerateSuccessUnwrapsEnvelope(t *testing.T) {
	srv := serverReturning(t, 200, `{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}]}}`)
	defer srv.Close()

	c := clientWithEndpoints(t, srv.URL)
	resp, err := c.Generate(context.Background(), "proj", "gemini-2.5-pro", "tok", "gemini", geminiapi.InternalRequest{SessionID: "-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].FinishReason != geminiapi.FinishStop {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateAdvancesEndpointOn503(t *testing.T) {
	bad := serverReturning(t, 503, "unavailable")
	defer bad.Close()
	good := serverReturning(t, 200, `{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`)
	defer good.Close()

	c := clientWithEndpoints(t, bad.URL, good.URL)
	resp, err := c.Generate(context.Background(), "proj", "gemini-2.5-pro", "tok", "gemini", geminiapi.InternalRequest{SessionID: "-1"})
	if err != nil {
		t.Fatalf("expected success via second endpoint, got %v", err)
	}
	if resp.Candidates[0].Content.Parts[0].Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateNonRetryableStatusAbortsImmediately(t *testing.T) {
	srv := serverReturning(t, 400, `{"error":{"message":"bad request"}}`)
	defer srv.Close()

	c := clientWithEndpoints(t, srv.URL)
	_, err := c.Generate(context.Background(), "proj", "gemini-2.5-pro", "tok", "gemini", geminiapi.InternalRequest{SessionID: "-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestStreamGenerateParsesUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"a\"}]}}]}}\n"))
		_, _ = w.Write([]byte("data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"b\"}]}}]}}\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := clientWithEndpoints(t, srv.URL)
	stream, err := c.StreamGenerate(context.Background(), "proj", "gemini-2.5-pro", "tok", "gemini", geminiapi.InternalRequest{SessionID: "-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var texts []string
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		texts = append(texts, chunk.Candidates[0].Content.Parts[0].Text)
	}
	if stream.Err() != nil {
		t.Fatalf("unexpected stream error: %v", stream.Err())
	}
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Fatalf("unexpected chunks: %v", texts)
	}
}
