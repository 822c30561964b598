// Package claude wraps the Anthropic SDK for the optional post-run narrative
// summary.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic SDK for Claude API calls.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClient creates a Claude client. apiKey defaults to ANTHROPIC_API_KEY env.
// model defaults to Claude Sonnet.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	m := anthropic.ModelClaudeSonnet4_6
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Client{inner: inner, model: m}, nil
}

const narratePrompt = `You are a technical project manager summarising a weft subagent run.

You will receive:
1. A one-line structured run summary (run id, topology, success ratio).
2. The final output of each step (truncated).

Produce a concise narrative covering:
- What each step accomplished (or why it failed).
- Any notable issues or unexpected behaviour.
- An overall assessment of the run.

Keep it concise — aim for 1-2 sentences per step and a short overall paragraph.
Do not repeat raw output verbatim. Focus on the human-readable takeaway.
`

// buildContent assembles the user message for the narrative request.
func buildContent(summary string, outputs map[string]string) string {
	var b strings.Builder
	b.WriteString("## Run Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n## Step Outputs\n\n")

	for step, out := range outputs {
		b.WriteString(fmt.Sprintf("### %s\n```\n%s\n```\n\n", step, out))
	}
	return b.String()
}

// Narrate sends a run summary and per-step outputs to Claude and returns a
// human-readable narrative of what each step accomplished or why it failed.
func (c *Client) Narrate(ctx context.Context, summary string, outputs map[string]string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(4096),
		System: []anthropic.TextBlockParam{
			{Text: narratePrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildContent(summary, outputs))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return strings.TrimSpace(text), nil
}
