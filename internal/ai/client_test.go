package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/vigil/internal/extract"
)

// fakeProvider stands in for an OpenAI-compatible endpoint. The reply
// function sees the decoded request and returns (status, message content).
func fakeProvider(t *testing.T, reply func(req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header: got %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		status, content := reply(req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"provider sad"}}`)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server, mutate func(*Config)) *Client {
	cfg := Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg)
}

func TestSynthesizeConfig(t *testing.T) {
	// WHAT: A valid provider reply becomes a validated extraction config;
	// the request carries json_object mode and the untrusted-data fences.
	srv := fakeProvider(t, func(req chatRequest) (int, string) {
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("synthesis must force json_object responses")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected message shape: %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "BEGIN UNTRUSTED PAGE CONTENT") {
			t.Error("page content must be fenced as untrusted")
		}
		return http.StatusOK, `{"keys":{"price":{"selector":"#price","numeric":true}}}`
	})
	c := testClient(srv, nil)

	cfg, err := c.SynthesizeConfig(context.Background(), "alice",
		"https://shop.example/widget", "watch the price", "<html><body><span id=price>$5</span></body></html>")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	spec, ok := cfg.Keys["price"]
	if !ok || spec.Selector != "#price" || !spec.Numeric {
		t.Errorf("config: got %+v", cfg)
	}
}

func TestSynthesizeConfigRejectsInvalid(t *testing.T) {
	// WHAT: A syntactically valid but semantically empty config fails
	// with ErrConfigSynthesis so callers fall back to the minimal config.
	srv := fakeProvider(t, func(chatRequest) (int, string) {
		return http.StatusOK, `{"keys":{}}`
	})
	c := testClient(srv, nil)

	_, err := c.SynthesizeConfig(context.Background(), "alice", "https://x.example", "d", "<html></html>")
	if !errors.Is(err, ErrConfigSynthesis) {
		t.Errorf("got %v, want ErrConfigSynthesis", err)
	}
}

func TestSynthesizeConfigBudget(t *testing.T) {
	// WHAT: The per-principal synthesis budget rejects the call over
	// limit while other principals stay unaffected.
	srv := fakeProvider(t, func(chatRequest) (int, string) {
		return http.StatusOK, `{"keys":{"k":{"selector":"body"}}}`
	})
	c := testClient(srv, func(cfg *Config) { cfg.SynthesisPerMin = 1 })

	ctx := context.Background()
	if _, err := c.SynthesizeConfig(ctx, "alice", "https://x.example", "d", ""); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.SynthesizeConfig(ctx, "alice", "https://x.example", "d", ""); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second call: got %v, want ErrRateLimited", err)
	}
	if _, err := c.SynthesizeConfig(ctx, "bob", "https://x.example", "d", ""); err != nil {
		t.Errorf("other principal must have its own budget: %v", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	// WHAT: Summaries come back trimmed; provider failures surface as
	// ErrAIUnavailable so the caller keeps the key-change description.
	srv := fakeProvider(t, func(req chatRequest) (int, string) {
		if req.ResponseFormat != nil {
			t.Error("summaries are plain text, not json_object")
		}
		return http.StatusOK, "  The price dropped from $1299 to $1199.  "
	})
	c := testClient(srv, nil)

	got, err := c.SummarizeChange(context.Background(), "alice",
		extract.StateMap{"price": "1299"}, extract.StateMap{"price": "1199"}, "widget")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "The price dropped from $1299 to $1199." {
		t.Errorf("summary: got %q", got)
	}

	down := fakeProvider(t, func(chatRequest) (int, string) {
		return http.StatusInternalServerError, ""
	})
	c = testClient(down, nil)
	if _, err := c.SummarizeChange(context.Background(), "alice", nil, nil, "w"); !errors.Is(err, ErrAIUnavailable) {
		t.Errorf("provider 500: got %v, want ErrAIUnavailable", err)
	}
}

func TestJudgeAlert(t *testing.T) {
	// WHAT: The judge honors explicit "no", treats everything else as
	// alert-worthy, and fails open on provider trouble.
	// WHY: A broken AI must never silently eat alerts.
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"explicit no", http.StatusOK, `{"alert":"no"}`, false},
		{"explicit yes", http.StatusOK, `{"alert":"yes"}`, true},
		{"case folded", http.StatusOK, `{"alert":"NO"}`, false},
		{"malformed", http.StatusOK, `{"verdict":1}`, true},
		{"provider down", http.StatusInternalServerError, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeProvider(t, func(chatRequest) (int, string) {
				return tt.status, tt.body
			})
			c := testClient(srv, nil)
			got := c.JudgeAlert(context.Background(),
				extract.StateMap{"s": "a"}, extract.StateMap{"s": "b"}, "alert on b")
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisabledClient(t *testing.T) {
	// WHAT: Without an API key every call degrades immediately.
	c := NewClient(Config{})
	if c.Enabled() {
		t.Fatal("client without key must report disabled")
	}

	if _, err := c.SynthesizeConfig(context.Background(), "a", "https://x.example", "d", ""); !errors.Is(err, ErrAIUnavailable) {
		t.Errorf("synthesize: got %v, want ErrAIUnavailable", err)
	}
	if _, err := c.SummarizeChange(context.Background(), "a", nil, nil, "d"); !errors.Is(err, ErrAIUnavailable) {
		t.Errorf("summarize: got %v, want ErrAIUnavailable", err)
	}
	if !c.JudgeAlert(context.Background(), nil, nil, "intent") {
		t.Error("disabled judge must fail open")
	}
}

func TestProviderRateLimitMapsToErrRateLimited(t *testing.T) {
	// WHAT: A provider 429 surfaces as ErrRateLimited, not a generic failure.
	srv := fakeProvider(t, func(chatRequest) (int, string) {
		return http.StatusTooManyRequests, ""
	})
	c := testClient(srv, nil)
	_, err := c.SynthesizeConfig(context.Background(), "alice", "https://x.example", "d", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}
