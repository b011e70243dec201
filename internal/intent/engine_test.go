package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// fakeModel returns canned responses and records whether it was called.
type fakeModel struct {
	response string
	err      error
	called   bool
}

func (f *fakeModel) Prompt(ctx context.Context, prompt string) (string, error) {
	f.called = true
	return f.response, f.err
}

func TestRuleStagePwd(t *testing.T) {
	model := &fakeModel{}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "what is your pwd", true)

	assert.Equal(t, RunShell, d.Kind)
	assert.Equal(t, "pwd", d.Command)
	assert.False(t, model.called, "rule stage must not call the model")
}

func TestRuleStageVariants(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())

	cases := map[string]string{
		"what directory are you in?": "pwd",
		"list files":                 "ls -la",
		"disk space":                 "df -h",
		"what time is it":            "date",
		"who am i":                   "whoami",
	}
	for utterance, want := range cases {
		d := e.Decide(context.Background(), utterance, false)
		assert.Equal(t, RunShell, d.Kind, "utterance %q", utterance)
		assert.Equal(t, want, d.Command, "utterance %q", utterance)
	}
}

func TestRuleStageListFilesWithDir(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())

	d := e.Decide(context.Background(), "list files in /tmp", false)
	assert.Equal(t, RunShell, d.Kind)
	assert.Equal(t, "ls -la", d.Command)
	assert.Equal(t, "/tmp", d.Dir)
}

func TestModelStageDisabledWithoutAutoExec(t *testing.T) {
	model := &fakeModel{response: `{"action":"shell","command":"ls"}`}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "please clean the build artifacts", false)

	assert.Equal(t, Reply, d.Kind)
	assert.False(t, model.called, "model stage must not run with auto exec disabled")
}

func TestModelStageShellDecision(t *testing.T) {
	model := &fakeModel{response: `Sure! Here is the plan:
{"action": "shell", "command": "du -sh ./build", "dir": "/tmp"}
Hope that helps.`}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "how big is the build dir", true)

	assert.True(t, model.called)
	assert.Equal(t, RunShell, d.Kind)
	assert.Equal(t, "du -sh ./build", d.Command)
	assert.Equal(t, "/tmp", d.Dir)
}

func TestModelStageScriptDecision(t *testing.T) {
	model := &fakeModel{response: `{"action":"script","code":"for f in *; do echo $f; done"}`}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "loop over every file and print it", true)

	assert.Equal(t, RunScript, d.Kind)
	assert.Equal(t, "for f in *; do echo $f; done", d.Code)
}

func TestModelStageMalformedResponseDegradesToReply(t *testing.T) {
	for name, response := range map[string]string{
		"plain prose":    "I think you should run ls to see the files.",
		"truncated json": `{"action":"shell","command":`,
		"wrong action":   `{"action":"dance"}`,
		"empty command":  `{"action":"shell","command":""}`,
		"empty code":     `{"action":"script","code":"  "}`,
	} {
		model := &fakeModel{response: response}
		e := NewEngine(model, zerolog.Nop())

		d := e.Decide(context.Background(), "do something clever", true)
		assert.Equal(t, Reply, d.Kind, "case %q", name)
		assert.Empty(t, d.Command, "case %q", name)
		assert.Empty(t, d.Code, "case %q", name)
	}
}

func TestModelStageErrorDegradesToReply(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "do something", true)
	assert.Equal(t, Reply, d.Kind)
}

func TestModelStageReplyPassthrough(t *testing.T) {
	model := &fakeModel{response: `{"action":"reply","message":"42"}`}
	e := NewEngine(model, zerolog.Nop())

	d := e.Decide(context.Background(), "what is the answer", true)
	assert.Equal(t, Reply, d.Kind)
	assert.Equal(t, "42", d.Message)
}

func TestEmptyUtterance(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())
	d := e.Decide(context.Background(), "   ", true)
	assert.Equal(t, Reply, d.Kind)
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`prose {"a":{"b":2}} more`, `{"a":{"b":2}}`},
		{`{"s":"brace } inside"}`, `{"s":"brace } inside"}`},
		{`{"s":"escaped \" quote}"}`, `{"s":"escaped \" quote}"}`},
		{`no json here`, ""},
		{`{"unclosed":`, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, extractJSONObject(c.in), "input %q", c.in)
	}
}
