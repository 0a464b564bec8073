package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"missionctl/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGeminiComplete(t *testing.T) {
	var gotPath string
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "On it, chief."}}}},
			},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Model:   "gemini-1.5-flash",
		Logger:  testLogger(),
	})

	reply, err := g.Complete(context.Background(), FredPersona, "what is the plan?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "On it, chief." {
		t.Errorf("reply = %q", reply)
	}
	if gotPath != "/models/gemini-1.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotBody.Contents) != 3 {
		t.Fatalf("got %d contents, want persona + primer + text", len(gotBody.Contents))
	}
	if gotBody.Contents[0].Role != "user" || gotBody.Contents[0].Parts[0].Text != FredPersona {
		t.Error("first turn must carry the persona")
	}
	if gotBody.Contents[1].Role != "model" || gotBody.Contents[1].Parts[0].Text != FredPrimer {
		t.Error("second turn must be the model primer")
	}
	if gotBody.Contents[2].Parts[0].Text != "what is the plan?" {
		t.Error("third turn must be the user text")
	}
}

func TestGeminiCompleteNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := g.Complete(context.Background(), FredPersona, "hi"); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestGeminiCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "bad key"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Complete(context.Background(), FredPersona, "hi")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want 403 surfaced", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotBody oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Done."}},
			},
		})
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "test-key", APIBase: srv.URL, Logger: testLogger()})
	reply, err := o.Complete(context.Background(), AntigravityPersona, "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Done." {
		t.Errorf("reply = %q", reply)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system persona + user text", gotBody.Messages)
	}
}

func TestDoWithRetryRecoversFromTransientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "recovered"}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	reply, err := g.Complete(context.Background(), FredPersona, "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "recovered" {
		t.Errorf("reply = %q", reply)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoWithRetryDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := g.Complete(context.Background(), FredPersona, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no retries on 400", calls)
	}
}

func TestPrimerFor(t *testing.T) {
	if got := primerFor(FredPersona); got != FredPrimer {
		t.Errorf("primerFor(Fred) = %q", got)
	}
	if got := primerFor(AntigravityPersona); got != AntigravityPrimer {
		t.Errorf("primerFor(Antigravity) = %q", got)
	}
}

func factoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{
		"gemini": {Enabled: true, APIKey: "k"},
		"openai": {Enabled: false, APIKey: "k"},
	}
	cfg.General.DefaultProvider = "gemini"
	return cfg
}

func TestFactoryDefault(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	p, err := f.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("provider = %s, want gemini", p.Name())
	}
}

func TestFactoryCachesInstances(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	a, err := f.Get("gemini")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := f.Get("gemini")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Error("factory must return the cached instance")
	}
}

func TestFactoryRejectsDisabledAndUnknown(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	if _, err := f.Get("openai"); err == nil {
		t.Error("expected error for disabled provider")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
