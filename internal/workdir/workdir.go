// Package workdir resolves caller-supplied directory strings into real
// directories. Language models routinely emit placeholder paths instead of
// real ones; those are treated as "no path supplied", not as errors.
package workdir

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize resolves raw into an absolute directory that exists. The second
// return value reports whether a usable directory was produced; false means
// "no override" and the caller keeps its current directory.
//
// Angle-bracketed tokens (`<path>`, `<dir>`) are template artifacts and are
// rejected outright. Literal placeholder paths models like to emit
// (`/path/to`, `/some/dir`, `/absolute/or/relative`) need no special casing
// beyond the existence check: one that is not a real directory fails Stat,
// and one that genuinely exists on disk is a directory the caller may use.
func Normalize(raw string) (string, bool) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", false
	}
	if strings.HasPrefix(p, "<") && strings.HasSuffix(p, ">") {
		return "", false
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", false
		}
		p = abs
	}
	p = filepath.Clean(p)

	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return p, true
}
