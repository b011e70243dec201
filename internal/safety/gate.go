// Package safety implements the deny-list check applied to every command
// before it reaches the shell session. It is a safety net against obviously
// destructive commands, not a security boundary: the executed process runs
// with the operator's privileges and a determined command can evade
// pattern matching.
package safety

import "regexp"

// Verdict is the result of checking one command. It is computed fresh per
// request and never cached.
type Verdict struct {
	OK bool
	// Pattern is the deny pattern that matched, for logging. Empty when OK.
	Pattern string
}

// denyPatterns match classes of destructive shell commands. All patterns
// are case-insensitive and compiled once at package init.
var denyPatterns = []*regexp.Regexp{
	// Recursive force-delete of filesystem roots or everything in reach.
	regexp.MustCompile(`(?i)\brm\s+(-[a-z-]+\s+)*-[a-z]*r[a-z]*f[a-z]*\s+(--no-preserve-root\s+)?(/|/\*|\*|~|\$HOME)(\s|$)`),
	regexp.MustCompile(`(?i)\brm\s+(-[a-z-]+\s+)*-[a-z]*f[a-z]*r[a-z]*\s+(--no-preserve-root\s+)?(/|/\*|\*|~|\$HOME)(\s|$)`),

	// Filesystem creation / formatting.
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),

	// dd with an input source can overwrite any device or file.
	regexp.MustCompile(`(?i)\bdd\s+if=`),

	// Writing directly to block devices.
	regexp.MustCompile(`(?i)>\s*/dev/(sd|nvme|vd|hd|mmcblk)`),

	// Privilege elevation to an interactive root shell.
	regexp.MustCompile(`(?i)\bsudo\s+(-[a-z]+\s+)*(su|sh|bash|zsh)\b`),
	regexp.MustCompile(`(?i)^\s*su\s+(-\s*)?(root)?\s*$`),

	// System power control. Anchored to command position so an incidental
	// mention in an argument ("cat shutdown-notes.txt") passes.
	regexp.MustCompile(`(?i)(^|[;&|]\s*)(sudo\s+)?(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`(?i)(^|[;&|]\s*)(sudo\s+)?init\s+[06]\b`),

	// Fork bomb idiom.
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`),

	// Recursive ownership or permission changes on root.
	regexp.MustCompile(`(?i)\bchmod\s+-r\s+\S+\s+/\s*$`),
	regexp.MustCompile(`(?i)\bchown\s+-r\s+\S+\s+/\s*$`),

	// Wiping partition tables.
	regexp.MustCompile(`(?i)\bwipefs\b.*\s-a\b`),
	regexp.MustCompile(`(?i)\bsgdisk\b.*--zap-all\b`),
}

// Check inspects a fully assembled command string against the deny list.
// Unknown-but-suspicious commands pass; the scope is limited to the
// documented pattern list.
func Check(command string) Verdict {
	for _, pat := range denyPatterns {
		if pat.MatchString(command) {
			return Verdict{OK: false, Pattern: pat.String()}
		}
	}
	return Verdict{OK: true}
}
