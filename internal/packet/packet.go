// Package packet builds sync packets: short markdown summaries of the
// newest inbox notes, generated by the model when it is reachable and
// by a fixed template when it is not. Each packet is written under the
// packets directory and mirrored to status/tech.md.
package packet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const inboxLimit = 3

// Prompter generates text from a prompt. Satisfied by llm.Client.
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// Builder assembles and writes sync packets.
type Builder struct {
	inboxDir   string
	packetsDir string
	statusDir  string
	model      Prompter
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBuilder creates a Builder. model may be nil, in which case every
// packet uses the fallback template.
func NewBuilder(inboxDir, packetsDir, statusDir string, model Prompter, logger zerolog.Logger) *Builder {
	return &Builder{
		inboxDir:   inboxDir,
		packetsDir: packetsDir,
		statusDir:  statusDir,
		model:      model,
		logger:     logger.With().Str("component", "packet").Logger(),
		now:        time.Now,
	}
}

// LatestInbox returns the newest inbox note paths, name-sorted
// descending, skipping the _template.md scaffold.
func (b *Builder) LatestInbox(limit int) ([]string, error) {
	if err := os.MkdirAll(b.inboxDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox dir: %w", err)
	}

	entries, err := os.ReadDir(b.inboxDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == "_template.md" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > limit {
		names = names[:limit]
	}

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(b.inboxDir, n)
	}
	return paths, nil
}

// Build generates a packet from the newest inbox notes and writes it
// to <packetsDir>/<ts>_sync_packet.md and <statusDir>/tech.md. It
// returns the packet path and content.
func (b *Builder) Build(ctx context.Context) (string, string, error) {
	if err := os.MkdirAll(b.packetsDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create packets dir: %w", err)
	}
	if err := os.MkdirAll(b.statusDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create status dir: %w", err)
	}

	sources, err := b.LatestInbox(inboxLimit)
	if err != nil {
		return "", "", err
	}

	content := b.generate(ctx, sources)

	ts := b.now().Format("2006-01-02_1504")
	outPath := filepath.Join(b.packetsDir, ts+"_sync_packet.md")
	if err := os.WriteFile(outPath, []byte(content+"\n"), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write packet: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.statusDir, "tech.md"), []byte(content+"\n"), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write status: %w", err)
	}
	// Stable pointer for automation; best effort since the dated packet
	// is already on disk.
	if err := os.WriteFile(filepath.Join(b.packetsDir, "latest.md"), []byte(content+"\n"), 0644); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to write latest packet pointer")
	}

	b.logger.Info().Str("path", outPath).Int("sources", len(sources)).Msg("Wrote sync packet")
	return outPath, content, nil
}

func (b *Builder) generate(ctx context.Context, sources []string) string {
	if b.model != nil {
		packet, err := b.model.Prompt(ctx, b.buildPrompt(sources))
		if err == nil && strings.TrimSpace(packet) != "" {
			return strings.TrimSpace(packet)
		}
		if err != nil {
			b.logger.Warn().Err(err).Msg("Model unavailable, using fallback packet")
		}
		return b.fallback(sources, err)
	}
	return b.fallback(sources, nil)
}

func (b *Builder) buildPrompt(sources []string) string {
	var inbox strings.Builder
	for _, p := range sources {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(&inbox, "\n\n---\nSOURCE: %s\n---\n%s\n", filepath.Base(p), data)
	}

	return strings.TrimSpace(fmt.Sprintf(`You are a coordination agent. Create a short Sync Packet.

Return EXACTLY this structure:

### Sync Packet — %s

**Top 3 changes (planned)**
- ...
- ...
- ...

**Next actions**
- ...
- ...
- ...

**Notes**
- ...

Use the inbox sources below. Be concise.

INBOX SOURCES:
%s`, b.timestamp(), inbox.String()))
}

func (b *Builder) fallback(sources []string, cause error) string {
	names := make([]string, len(sources))
	for i, p := range sources {
		names[i] = filepath.Base(p)
	}
	sourceList := strings.Join(names, ", ")
	if sourceList == "" {
		sourceList = "none"
	}
	note := "- Model skipped"
	if cause != nil {
		note = fmt.Sprintf("- Error: %v", cause)
	}

	return fmt.Sprintf(`### Sync Packet — %s

**Top 3 changes (planned)**
- (model unavailable) Review inbox files: %s
- Generate sync packet once model is running
- Commit + push updates

**Next actions**
- Add quick log in inbox/
- Run agent again
- Verify webhook is set

**Notes**
%s`, b.timestamp(), sourceList, note)
}

func (b *Builder) timestamp() string {
	return b.now().Format("2006-01-02 15:04")
}
