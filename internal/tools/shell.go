package tools

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"time"
)

// Return codes reported for commands the sandbox refuses or cuts short.
const (
	rcBlocked  = 126
	rcNotFound = 127
	rcTimeout  = 124
)

// stdioLimit caps captured stdout/stderr per command.
const stdioLimit = 4000

// blockPatterns match dependency-installation commands, which are rejected
// by policy: the implementer must work with what the workspace already has.
var blockPatterns = []string{
	`\bpip\s+install\b`,
	`\bpip3\s+install\b`,
	`\bpython\s+-m\s+pip\s+install\b`,
	`\bpython3\s+-m\s+pip\s+install\b`,
	`\buv\s+pip\s+install\b`,
	`\bpoetry\s+install\b`,
	`\bpoetry\s+add\b`,
	`\bpipx\s+install\b`,
	`\bnpm\s+install\b`,
	`\byarn\s+add\b`,
	`\bpnpm\s+install\b`,
	`\bgo\s+get\b`,
	`\bcargo\s+add\b`,
	`\bconda\s+install\b`,
	`\bbrew\s+install\b`,
	`\bapt-get\s+install\b`,
}

// escapePatterns match commands that could leave the workspace: cwd changes,
// parent traversal, absolute paths, home expansion.
var escapePatterns = []string{
	`(^|[;&|]\s*|\s)cd\s`,
	`\.\./`,
	`\.\.\\`,
	`(?:^|\s)/`,
	`(?:^|\s)~`,
}

var (
	blockRe  = regexp.MustCompile(`(?i)` + joinPatterns(blockPatterns))
	escapeRe = regexp.MustCompile(`(?i)` + joinPatterns(escapePatterns))
)

func joinPatterns(patterns []string) string {
	out := ""
	for i, p := range patterns {
		if i > 0 {
			out += "|"
		}
		out += p
	}
	return out
}

// CmdResult is what a role sees after asking for a command.
type CmdResult struct {
	Cmd           string
	ReturnCode    int
	Stdout        string
	Stderr        string
	Blocked       bool
	BlockedReason string
}

// Shell executes commands with the working directory pinned to one
// directory. Policy violations are reported as results, never errors, so a
// blocked command shows up in the implementer's own report instead of
// crashing the run.
type Shell struct {
	Dir     string
	Timeout time.Duration

	rec Recorder
}

// NewShell creates a shell pinned to dir.
func NewShell(dir string, timeout time.Duration, rec Recorder) *Shell {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Shell{Dir: dir, Timeout: timeout, rec: rec}
}

// Run executes cmd through `sh -c` inside the pinned directory.
func (s *Shell) Run(ctx context.Context, cmd string) CmdResult {
	if blockRe.MatchString(cmd) {
		return s.blocked(cmd, "install")
	}
	if escapeRe.MatchString(cmd) {
		return s.blocked(cmd, "escape")
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = s.Dir
	stdout, stderr := &capBuffer{limit: stdioLimit}, &capBuffer{limit: stdioLimit}
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	res := CmdResult{
		Cmd:        cmd,
		ReturnCode: 0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ReturnCode = rcTimeout
		res.Stderr = "TIMEOUT after " + s.Timeout.String()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
		} else {
			res.ReturnCode = rcNotFound
			res.Stderr = "COMMAND_NOT_FOUND"
		}
	}

	s.record(res)
	return res
}

func (s *Shell) blocked(cmd, reason string) CmdResult {
	res := CmdResult{
		Cmd:           cmd,
		ReturnCode:    rcBlocked,
		Stderr:        "BLOCKED",
		Blocked:       true,
		BlockedReason: reason,
	}
	s.record(res)
	return res
}

func (s *Shell) record(res CmdResult) {
	if s.rec == nil {
		return
	}
	s.rec.Record(Event{
		Tool:          "run_cmd",
		Cmd:           res.Cmd,
		ReturnCode:    res.ReturnCode,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		Blocked:       res.Blocked,
		BlockedReason: res.BlockedReason,
	})
}

// capBuffer collects output up to a limit, appending a truncation marker.
type capBuffer struct {
	limit     int
	buf       []byte
	truncated bool
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if len(b.buf) < b.limit {
		room := b.limit - len(b.buf)
		if len(p) <= room {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *capBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "...<truncated>"
	}
	return string(b.buf)
}
