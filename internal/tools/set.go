package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names understood by Set.Call.
const (
	ToolFSRead  = "fs_read"
	ToolFSWrite = "fs_write"
	ToolFSList  = "fs_list"
	ToolRunCmd  = "run_cmd"
)

// Set bundles the capabilities granted to one role. A nil FS or Shell means
// the role does not have that capability.
type Set struct {
	FS    *Sandbox
	Shell *Shell
}

// Names returns the tool names this set exposes.
func (s *Set) Names() []string {
	var names []string
	if s.FS != nil {
		names = append(names, ToolFSRead, ToolFSWrite, ToolFSList)
	}
	if s.Shell != nil {
		names = append(names, ToolRunCmd)
	}
	return names
}

// Call dispatches one tool invocation. The returned string is a JSON payload
// for the agent backend to feed back to the role. Tool-level failures (bad
// path, missing file) come back as errors so the backend can surface them as
// tool results rather than aborting the invocation.
func (s *Set) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolFSRead:
		if s.FS == nil {
			return "", fmt.Errorf("tool %s is not available for this role", name)
		}
		return s.FS.Read(stringArg(args, "path"))
	case ToolFSWrite:
		if s.FS == nil {
			return "", fmt.Errorf("tool %s is not available for this role", name)
		}
		path, err := s.FS.Write(stringArg(args, "path"), stringArg(args, "content"))
		if err != nil {
			return "", err
		}
		return marshal(map[string]any{"ok": true, "path": path})
	case ToolFSList:
		if s.FS == nil {
			return "", fmt.Errorf("tool %s is not available for this role", name)
		}
		entries, err := s.FS.List(stringArg(args, "path"))
		if err != nil {
			return "", err
		}
		return marshal(map[string]any{"entries": entries})
	case ToolRunCmd:
		if s.Shell == nil {
			return "", fmt.Errorf("tool %s is not available for this role", name)
		}
		cmd := strings.TrimSpace(stringArg(args, "cmd"))
		if cmd == "" {
			return "", fmt.Errorf("cmd is required")
		}
		res := s.Shell.Run(ctx, cmd)
		return marshal(map[string]any{
			"cmd":        res.Cmd,
			"returncode": res.ReturnCode,
			"stdout":     res.Stdout,
			"stderr":     res.Stderr,
		})
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}
