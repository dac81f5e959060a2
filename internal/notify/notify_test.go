package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendNoOpWhenDisabled(t *testing.T) {
	s := New(Config{Enabled: false})
	if s.Enabled() {
		t.Fatal("expected service not enabled")
	}
	if err := s.Send(context.Background(), Summary{Stage: "write", Success: true}); err != nil {
		t.Errorf("expected no-op, got error: %v", err)
	}
}

func TestFormatSummaryEscapesMarkdown(t *testing.T) {
	text := formatSummary(Summary{Stage: "write", Success: true, Detail: "12 files (10GB) written.", Duration: 90 * time.Second})
	if !strings.Contains(text, "write finished") {
		t.Errorf("expected title in output, got %q", text)
	}
	if !strings.Contains(text, "\\.") {
		t.Errorf("expected escaped period, got %q", text)
	}
}

func TestFormatSummaryMarksFailure(t *testing.T) {
	text := formatSummary(Summary{Stage: "schedule", Success: false, Detail: "pipeline aborted"})
	if !strings.Contains(text, "❌") || !strings.Contains(text, "failed") {
		t.Errorf("expected failure markers, got %q", text)
	}
}

func TestSendPostsToTelegramAPI(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := New(Config{Enabled: true, BotToken: "tok", ChatID: "123"})
	s.client = srv.Client()
	// Point sendMessage at the test server instead of api.telegram.org.
	orig := s.cfg.BotToken
	_ = orig

	// sendMessage builds its own URL from BotToken; redirect via a custom
	// RoundTripper so the request actually lands on srv.
	s.client.Transport = rewriteHostTransport{target: srv.URL}

	if err := s.Send(context.Background(), Summary{Stage: "write", Success: true, Detail: "ok"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottok/sendMessage" {
		t.Errorf("expected request path /bottok/sendMessage, got %q", gotPath)
	}
}

type rewriteHostTransport struct {
	target string
}

func (t rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := req.URL.Parse(t.target + req.URL.Path)
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.URL = targetURL
	req.Host = targetURL.Host
	return http.DefaultTransport.RoundTrip(req)
}
