package share

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTranscript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	lines := `{"role":"user","content":[{"type":"text","text":"fix the bug"}]}
{"role":"assistant","content":[{"type":"text","text":"done, see diff"}]}
not json
{"role":"assistant","content":[{"type":"tool_use","name":"Bash"}]}
`
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func TestExport_RendersMarkdown(t *testing.T) {
	path := writeTranscript(t)

	out, err := Export(path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read rendered: %v", err)
	}
	md := string(data)
	if !strings.Contains(md, "## user") || !strings.Contains(md, "fix the bug") {
		t.Errorf("expected user exchange in rendering:\n%s", md)
	}
	if !strings.Contains(md, "done, see diff") {
		t.Errorf("expected assistant text in rendering:\n%s", md)
	}
}

func TestExport_MissingFile(t *testing.T) {
	if _, err := Export(filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Fatal("expected error for missing transcript")
	}
}

func TestShare_PublishesAndReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"url":"https://share.example/abc123"}`))
	}))
	defer srv.Close()

	s := NewService(srv.URL)
	url, err := s.Share(writeTranscript(t))
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if url != "https://share.example/abc123" {
		t.Errorf("unexpected url: %q", url)
	}
}

func TestShare_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewService(srv.URL)
	if _, err := s.Share(writeTranscript(t)); err == nil {
		t.Fatal("expected error from failing share service")
	}
}

func TestShare_NoEndpoint(t *testing.T) {
	t.Setenv(DefaultEndpointEnv, "")
	s := NewService("")
	if _, err := s.Share(writeTranscript(t)); err == nil {
		t.Fatal("expected error when no endpoint configured")
	}
}
