package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New("test-key", slog.New(slog.DiscardHandler), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func writeCandidates(w http.ResponseWriter, texts ...string) {
	parts := make([]map[string]string, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, map[string]string{"text": text})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": parts, "role": "model"}},
		},
	})
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New("  ", nil); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestGenerateContentRequestFormat(t *testing.T) {
	var gotPath, gotKey, gotQuery string
	var gotBody generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-goog-api-key")
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		writeCandidates(w, "NO")
	})

	text, err := c.Generate(context.Background(), "is this harmful?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "NO" {
		t.Fatalf("unexpected text: %q", text)
	}
	if gotPath != "/models/gemini-pro:generateContent" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected API key header, got %q", gotKey)
	}
	if strings.Contains(gotQuery, "test-key") {
		t.Fatalf("API key must not be sent in the query string: %s", gotQuery)
	}
	if len(gotBody.Contents) != 1 || len(gotBody.Contents[0].Parts) != 1 || gotBody.Contents[0].Parts[0].Text != "is this harmful?" {
		t.Fatalf("unexpected contents: %+v", gotBody.Contents)
	}
	want := generationConfig{Temperature: 0.2, TopP: 0.8, TopK: 40}
	if gotBody.GenerationConfig != want {
		t.Fatalf("generationConfig = %+v, want %+v", gotBody.GenerationConfig, want)
	}
}

func TestGenerateJoinsParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeCandidates(w, "The content", "is safe.")
	})
	resp, err := c.GenerateContent(context.Background(), "x")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if resp.Text() != "The content is safe." {
		t.Fatalf("unexpected joined text: %q", resp.Text())
	}
	if !strings.Contains(string(resp.Raw), "candidates") {
		t.Fatalf("raw response not kept: %s", resp.Raw)
	}
}

func TestGenerateErrorKinds(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			},
			wantKind:      ErrorKindHTTPStatus,
			wantRetryable: true,
		},
		{
			name: "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"bad key"}`, http.StatusForbidden)
			},
			wantKind: ErrorKindHTTPStatus,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantKind:      ErrorKindHTTPStatus,
			wantRetryable: true,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>oops</html>"))
			},
			wantKind: ErrorKindDecode,
		},
		{
			name: "no candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			},
			wantKind: ErrorKindUnexpectedFormat,
		},
		{
			name: "empty text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeCandidates(w)
			},
			wantKind: ErrorKindUnexpectedFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Generate(context.Background(), "x")
			var gerr *Error
			if !errors.As(err, &gerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if gerr.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", gerr.Kind, tt.wantKind)
			}
			if gerr.Retryable() != tt.wantRetryable {
				t.Fatalf("Retryable() = %v, want %v", gerr.Retryable(), tt.wantRetryable)
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "x")
	if KindOf(err) != ErrorKindTimeout {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestGenerateConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New("secret-key", nil, WithBaseURL(url))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = c.Generate(context.Background(), "x")
	if KindOf(err) != ErrorKindConnection {
		t.Fatalf("expected connection kind, got %v", err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks the API key: %v", err)
	}
}
