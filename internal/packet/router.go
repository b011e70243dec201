package packet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// chatKeys are the downstream threads the router fans out to. The keys
// double as outbox directory names and as the required JSON keys in the
// model's routing response.
var chatKeys = []string{"gulf_chain_index", "spy_backtest", "risk_gate", "tech"}

// canonFiles are the context documents sampled into the routing prompt
// when present.
var canonFiles = []string{
	"gulf_chain_index.md",
	"risk_gate_spec.md",
	"spy_backtest_pipeline.md",
	"FEATURES_TRACKER.md",
}

const (
	canonSnippetLimit = 1500
	canonTotalLimit   = 6000
)

// Router writes one per-thread message under <outboxDir>/<key>/next.md
// from the newest packet. When the model cannot produce a valid routing
// response, every thread receives the packet verbatim.
type Router struct {
	outboxDir string
	canonDir  string
	inboxDir  string
	model     Prompter
	logger    zerolog.Logger
}

// NewRouter creates a Router. model may be nil, which forces the
// verbatim fallback for every thread.
func NewRouter(outboxDir, canonDir, inboxDir string, model Prompter, logger zerolog.Logger) *Router {
	return &Router{
		outboxDir: outboxDir,
		canonDir:  canonDir,
		inboxDir:  inboxDir,
		model:     model,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Route fans the packet out to every thread's next.md.
func (r *Router) Route(ctx context.Context, packetText string) error {
	for _, key := range chatKeys {
		if err := os.MkdirAll(filepath.Join(r.outboxDir, key), 0755); err != nil {
			return fmt.Errorf("failed to create outbox dir: %w", err)
		}
	}

	messages := r.routeMessages(ctx, packetText)

	for _, key := range chatKeys {
		msg := strings.TrimSpace(messages[key])
		if msg == "" {
			msg = "No action needed."
		}
		path := filepath.Join(r.outboxDir, key, "next.md")
		if err := os.WriteFile(path, []byte(msg+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write outbox message: %w", err)
		}
	}

	r.logger.Info().Int("threads", len(chatKeys)).Msg("Routed outbox messages")
	return nil
}

// routeMessages asks the model for strict JSON keyed by thread. Any
// failure falls back to the packet text for every key.
func (r *Router) routeMessages(ctx context.Context, packetText string) map[string]string {
	fallback := func() map[string]string {
		out := make(map[string]string, len(chatKeys))
		for _, k := range chatKeys {
			out[k] = packetText
		}
		return out
	}

	if r.model == nil {
		return fallback()
	}

	raw, err := r.model.Prompt(ctx, r.buildPrompt(packetText))
	if err != nil {
		r.logger.Warn().Err(err).Msg("Routing model call failed; using packet verbatim")
		return fallback()
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err != nil {
		r.logger.Warn().Err(err).Msg("Routing response was not valid JSON; using packet verbatim")
		return fallback()
	}
	return data
}

func (r *Router) buildPrompt(packetText string) string {
	var inbox strings.Builder
	if b := r.inboxDir; b != "" {
		if entries, err := os.ReadDir(b); err == nil {
			count := 0
			for i := len(entries) - 1; i >= 0 && count < 3; i-- {
				name := entries[i].Name()
				if entries[i].IsDir() || !strings.HasSuffix(name, ".md") || name == "_template.md" {
					continue
				}
				if data, err := os.ReadFile(filepath.Join(b, name)); err == nil {
					fmt.Fprintf(&inbox, "\n\n---\nSOURCE: %s\n---\n%s\n", name, data)
					count++
				}
			}
		}
	}

	return fmt.Sprintf(`You route updates to %d threads by writing one markdown message per thread.

THREADS (keys must match exactly): %s

GOAL:
- Each message should be actionable, short, and specific to that thread.
- Do not invent progress. Use only what is in PACKET + INBOX + CANON.
- If a thread has nothing to do, say "No action needed" and keep it short.

OUTPUT FORMAT (STRICT):
Return VALID JSON only. No code fences. No commentary.
Keys must be exactly: %s
Values must be markdown strings.

CANON (snippets):
%s

INBOX (latest):
%s

PACKET (latest):
%s`,
		len(chatKeys),
		strings.Join(chatKeys, ", "),
		strings.Join(chatKeys, ", "),
		r.canonSnippet(),
		inbox.String(),
		packetText)
}

// canonSnippet samples the canon documents, bounded per file and in
// total, to give the router context without flooding the prompt.
func (r *Router) canonSnippet() string {
	if r.canonDir == "" {
		return ""
	}

	var parts []string
	for _, name := range canonFiles {
		data, err := os.ReadFile(filepath.Join(r.canonDir, name))
		if err != nil {
			continue
		}
		txt := strings.TrimSpace(string(data))
		if txt == "" {
			continue
		}
		if len(txt) > canonSnippetLimit {
			txt = txt[:canonSnippetLimit]
		}
		parts = append(parts, "## "+name+"\n"+txt)
	}

	blob := strings.Join(parts, "\n\n")
	if len(blob) > canonTotalLimit {
		blob = blob[:canonTotalLimit]
	}
	return blob
}
