// Package intent classifies one line of user input into a reply, a shell
// command, or a script snippet. A rule stage handles common literal
// requests deterministically; everything else optionally goes to the
// language model, whose structured answer is treated with suspicion: any
// malformed or under-specified response degrades to a plain reply instead
// of partially executing an action.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Kind tags a Decision.
type Kind int

const (
	// Reply answers conversationally without touching the session.
	Reply Kind = iota
	// RunShell executes a shell command in the persistent session.
	RunShell
	// RunScript executes a script snippet through the interpreter.
	RunScript
)

// Decision is the engine's classification of one utterance. Consumed once
// by the orchestrator; not persisted across utterances.
type Decision struct {
	Kind    Kind
	Message string
	Command string
	Code    string
	// Dir is a raw directory hint; the orchestrator normalizes it and
	// silently drops it when normalization fails.
	Dir string
}

// Chatter is the single-turn model call the engine falls back to.
type Chatter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// rule maps a literal request pattern to a fixed command template.
type rule struct {
	pattern *regexp.Regexp
	build   func(m []string) Decision
}

// rules are checked in order before any model call. Purely a latency and
// determinism optimization; the model stage could answer all of these.
var rules = []rule{
	{
		pattern: regexp.MustCompile(`(?i)^(what (is|'s) your pwd|what directory are you in|where are you)\??$`),
		build: func([]string) Decision {
			return Decision{Kind: RunShell, Command: "pwd"}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^list (the )?files( in (.+?))?\??$`),
		build: func(m []string) Decision {
			d := Decision{Kind: RunShell, Command: "ls -la"}
			if m[3] != "" {
				d.Command = "ls -la"
				d.Dir = strings.TrimSpace(m[3])
			}
			return d
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(show |check )?disk (space|usage)\??$`),
		build: func([]string) Decision {
			return Decision{Kind: RunShell, Command: "df -h"}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^(what time is it|show the date)\??$`),
		build: func([]string) Decision {
			return Decision{Kind: RunShell, Command: "date"}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)^who am i\??$`),
		build: func([]string) Decision {
			return Decision{Kind: RunShell, Command: "whoami"}
		},
	},
}

// Engine decides what to do with each utterance.
type Engine struct {
	model  Chatter
	logger zerolog.Logger
}

// NewEngine creates a decision engine. model may be nil, in which case the
// model stage is skipped entirely.
func NewEngine(model Chatter, logger zerolog.Logger) *Engine {
	return &Engine{
		model:  model,
		logger: logger.With().Str("component", "intent").Logger(),
	}
}

// Decide classifies one utterance. The model stage only runs when the
// operator has enabled automatic execution.
func (e *Engine) Decide(ctx context.Context, utterance string, autoExec bool) Decision {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Decision{Kind: Reply}
	}

	for _, r := range rules {
		if m := r.pattern.FindStringSubmatch(text); m != nil {
			d := validate(r.build(m))
			e.logger.Debug().Str("utterance", text).Str("rule", r.pattern.String()).Msg("rule stage matched")
			return d
		}
	}

	if !autoExec || e.model == nil {
		return Decision{Kind: Reply}
	}
	return e.modelStage(ctx, text)
}

const classifyPrompt = `You are a command routing classifier. Given the user input below, respond with EXACTLY ONE JSON object and nothing else. The object must have this shape:

{"action": "reply" | "shell" | "script", "command": "<shell command, only for action=shell>", "code": "<script text, only for action=script>", "dir": "<working directory, optional>", "message": "<answer text, only for action=reply>"}

Rules:
- Use "shell" when the input asks for something a single shell command can do.
- Use "script" when the input asks for multi-step logic best expressed as a script.
- Use "reply" for anything conversational or unclear.
- Never invent placeholder paths. Omit "dir" unless the user named a real one.

User input: %s`

// modelResponse is the fixed three-variant schema the model must return.
type modelResponse struct {
	Action  string `json:"action"`
	Command string `json:"command"`
	Code    string `json:"code"`
	Dir     string `json:"dir"`
	Message string `json:"message"`
}

func (e *Engine) modelStage(ctx context.Context, text string) Decision {
	raw, err := e.model.Prompt(ctx, fmt.Sprintf(classifyPrompt, text))
	if err != nil {
		e.logger.Warn().Err(err).Msg("model stage call failed, degrading to reply")
		return Decision{Kind: Reply}
	}

	// Models routinely wrap JSON in prose; take the first top-level object.
	span := extractJSONObject(raw)
	if span == "" {
		e.logger.Debug().Str("response", truncate(raw, 120)).Msg("no JSON object in model response")
		return Decision{Kind: Reply}
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(span), &resp); err != nil {
		e.logger.Debug().Err(err).Msg("model response JSON did not parse")
		return Decision{Kind: Reply}
	}

	switch strings.ToLower(strings.TrimSpace(resp.Action)) {
	case "shell":
		return validate(Decision{Kind: RunShell, Command: strings.TrimSpace(resp.Command), Dir: strings.TrimSpace(resp.Dir)})
	case "script":
		return validate(Decision{Kind: RunScript, Code: resp.Code, Dir: strings.TrimSpace(resp.Dir)})
	case "reply":
		return Decision{Kind: Reply, Message: strings.TrimSpace(resp.Message)}
	default:
		return Decision{Kind: Reply}
	}
}

// validate enforces the invariant that a run decision with nothing to run
// degrades to a plain reply.
func validate(d Decision) Decision {
	switch d.Kind {
	case RunShell:
		if strings.TrimSpace(d.Command) == "" {
			return Decision{Kind: Reply}
		}
	case RunScript:
		if strings.TrimSpace(d.Code) == "" {
			return Decision{Kind: Reply}
		}
	}
	return d
}

// extractJSONObject returns the first balanced top-level {...} span in s,
// or "" when none exists.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
