// Package protocol implements the completion-marker framing used to run
// commands over a raw terminal stream. A terminal has no message boundaries,
// so each command is followed by an echo of a unique marker token together
// with the command's exit code and the shell's working directory. Finding
// the marker in the output stream is the only completion signal.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// markerPrefix namespaces marker tokens so they are recognizable in tests
// and log output. The random suffix makes each token unique per command.
const markerPrefix = "GSMARK"

// NewMarker returns a fresh marker token. Tokens are never reused across
// commands; a stale marker from an orphaned command must not match the
// current one.
func NewMarker() string {
	return fmt.Sprintf("%s_%s", markerPrefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Encode wraps a shell command so that, after the command finishes, the
// session echoes a single line of the form "<marker> <exit_code> <pwd>".
// The exit code is captured into a variable first because echo itself
// would clobber $?.
func Encode(command, marker string) string {
	var b strings.Builder
	b.WriteString(command)
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("__gs_rc=$?; printf '%%s %%s %%s\\n' '%s' \"$__gs_rc\" \"$PWD\"\n", marker))
	return b.String()
}

// Completion is the parsed marker line of a finished command.
type Completion struct {
	ExitCode   int
	WorkingDir string
	// Output is everything the command wrote before the marker line.
	Output string
}

// Decoder accumulates terminal output for a single command and reports
// completion once the marker line appears. It is not safe for concurrent
// use; the session manager owns one decoder per in-flight command.
type Decoder struct {
	marker  string
	pattern *regexp.Regexp
	buf     strings.Builder
}

// NewDecoder creates a decoder for one command execution.
func NewDecoder(marker string) *Decoder {
	// The directory is the verbatim remainder of the line: directories may
	// contain spaces, so only the exit code is split off.
	pattern := regexp.MustCompile(regexp.QuoteMeta(marker) + ` (\d+) ([^\n]*)`)
	return &Decoder{marker: marker, pattern: pattern}
}

// Feed appends raw bytes read from the terminal.
func (d *Decoder) Feed(p []byte) {
	d.buf.Write(p)
}

// Completion returns the parsed result once the marker line has arrived,
// or nil if the command is still running.
func (d *Decoder) Completion() *Completion {
	s := d.buf.String()
	loc := d.pattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return nil
	}
	m := d.pattern.FindStringSubmatch(s)
	code, err := strconv.Atoi(m[1])
	if err != nil {
		// \d+ guarantees digits; overflow is the only way here.
		return nil
	}
	out := s[:loc[0]]
	// Drop the line the marker sits on if the shell echoed part of it.
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[:i+1]
	} else {
		out = ""
	}
	return &Completion{
		ExitCode:   code,
		WorkingDir: strings.TrimRight(m[2], "\r"),
		Output:     sanitizeOutput(out),
	}
}

// Partial returns whatever output has accumulated so far, for timeout
// results where no marker was ever observed.
func (d *Decoder) Partial() string {
	return sanitizeOutput(d.buf.String())
}

// sanitizeOutput strips carriage returns a PTY inserts into the stream.
func sanitizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
