package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskcrew/internal/agent"
	"github.com/fyrsmithlabs/taskcrew/internal/tools"
)

// ToolBroker hands out per-role capability sets and swaps in a fresh event
// log each round, so the reviewer only ever sees the current round's tool
// activity.
type ToolBroker struct {
	workspace  string
	projectDir string
	reportsDir string
	cmdTimeout time.Duration

	mu     sync.Mutex
	events *tools.EventLog
}

// NewToolBroker binds the broker to the workspace, project and reports
// directories.
func NewToolBroker(workspace, projectDir, reportsDir string, cmdTimeout time.Duration) *ToolBroker {
	return &ToolBroker{
		workspace:  workspace,
		projectDir: projectDir,
		reportsDir: reportsDir,
		cmdTimeout: cmdTimeout,
		events:     tools.NewEventLog(),
	}
}

// BeginRound starts a fresh event log and returns it.
func (b *ToolBroker) BeginRound() *tools.EventLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = tools.NewEventLog()
	return b.events
}

// Provide implements agent.ToolProvider. The implementer writes under the
// workspace; the tech writer writes under the project directory but still
// runs commands in the workspace.
func (b *ToolBroker) Provide(role agent.Role) *tools.Set {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()

	base := b.workspace
	fs := tools.NewSandbox(base, true, events)
	if role == agent.RoleTechWriter {
		fs = tools.NewSandbox(b.projectDir, true, events)
		// Run artifacts are write-once; the tech writer must not touch them.
		fs.DenyDirs = []string{b.reportsDir}
	}
	return &tools.Set{
		FS:    fs,
		Shell: tools.NewShell(b.workspace, b.cmdTimeout, events),
	}
}

// formatToolOutputs renders the round's tool events as the TOOL_OUTPUTS
// reviewer block: files written, then command results with stderr snippets.
func formatToolOutputs(events []tools.Event) string {
	const stderrCap = 400

	var writes, cmds []tools.Event
	for _, e := range events {
		switch e.Tool {
		case tools.ToolFSWrite:
			writes = append(writes, e)
		case tools.ToolRunCmd:
			cmds = append(cmds, e)
		}
	}

	var lines []string
	if len(writes) > 0 {
		lines = append(lines, "FILES_WRITTEN:")
		for _, e := range writes {
			lines = append(lines, "- "+e.Path)
		}
	}
	if len(cmds) > 0 {
		lines = append(lines, "COMMAND_RESULTS:")
		for _, e := range cmds {
			suffix := ""
			if e.Blocked {
				suffix = " (BLOCKED)"
			}
			lines = append(lines, fmt.Sprintf("- %s -> %d%s", strings.TrimSpace(e.Cmd), e.ReturnCode, suffix))
			if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
				if len(stderr) > stderrCap {
					stderr = stderr[:stderrCap] + "...<truncated>"
				}
				lines = append(lines, "  stderr: "+stderr)
			}
		}
	}
	if len(lines) == 0 {
		return "- None"
	}
	return strings.Join(lines, "\n")
}
