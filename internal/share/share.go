// Package share exports a worker's session transcript to a shareable
// markdown rendering and publishes it to an external sharing service. Every
// operation here is best-effort: callers record failures as metadata and
// carry on.
package share

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultEndpointEnv names the environment variable holding the share
// service URL.
const DefaultEndpointEnv = "WEFT_SHARE_URL"

// Service renders and publishes session transcripts.
type Service struct {
	Endpoint string
	Client   *http.Client
}

// NewService creates a Service. An empty endpoint falls back to the
// WEFT_SHARE_URL environment variable.
func NewService(endpoint string) *Service {
	if endpoint == "" {
		endpoint = os.Getenv(DefaultEndpointEnv)
	}
	return &Service{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Share renders the transcript at sessionFile and publishes it, returning the
// public URL.
func (s *Service) Share(sessionFile string) (string, error) {
	rendered, err := Export(sessionFile)
	if err != nil {
		return "", err
	}
	return s.publish(rendered)
}

// Export renders a session transcript (newline-delimited JSON exchanges) to a
// markdown file next to the transcript, returning the rendered path.
func Export(sessionFile string) (string, error) {
	data, err := os.ReadFile(sessionFile)
	if err != nil {
		return "", fmt.Errorf("read session transcript: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", filepath.Base(sessionFile))

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || !gjson.Valid(line) {
			continue
		}
		role := gjson.Get(line, "role").String()
		if role == "" {
			role = gjson.Get(line, "type").String()
		}

		var texts []string
		gjson.Get(line, "content").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "text" {
				texts = append(texts, item.Get("text").String())
			}
			return true
		})
		if len(texts) == 0 {
			if t := gjson.Get(line, "text"); t.Exists() {
				texts = append(texts, t.String())
			}
		}
		if len(texts) == 0 {
			continue
		}

		fmt.Fprintf(&b, "## %s\n\n%s\n\n", role, strings.Join(texts, "\n\n"))
	}

	out := strings.TrimSuffix(sessionFile, filepath.Ext(sessionFile)) + ".md"
	if err := os.WriteFile(out, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write rendered transcript: %w", err)
	}
	return out, nil
}

// publish POSTs the rendered markdown to the share service and returns the
// URL from its response.
func (s *Service) publish(renderedPath string) (string, error) {
	if s.Endpoint == "" {
		return "", fmt.Errorf("no share endpoint configured (set %s)", DefaultEndpointEnv)
	}

	data, err := os.ReadFile(renderedPath)
	if err != nil {
		return "", fmt.Errorf("read rendered transcript: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"filename": filepath.Base(renderedPath),
		"content":  string(data),
	})
	if err != nil {
		return "", fmt.Errorf("marshal share payload: %w", err)
	}

	resp, err := s.Client.Post(s.Endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("publish transcript: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read share response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("share service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	url := gjson.GetBytes(body, "url").String()
	if url == "" {
		return "", fmt.Errorf("share service response missing url")
	}
	return url, nil
}
