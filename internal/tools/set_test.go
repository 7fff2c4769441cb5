package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T) (*Set, *EventLog) {
	t.Helper()
	log := NewEventLog()
	dir := t.TempDir()
	return &Set{
		FS:    NewSandbox(dir, true, log),
		Shell: NewShell(dir, 5*time.Second, log),
	}, log
}

func TestSetNames(t *testing.T) {
	set, _ := newTestSet(t)
	assert.Equal(t, []string{ToolFSRead, ToolFSWrite, ToolFSList, ToolRunCmd}, set.Names())

	readOnly := &Set{FS: set.FS}
	assert.Equal(t, []string{ToolFSRead, ToolFSWrite, ToolFSList}, readOnly.Names())
}

func TestSetCallWriteThenRead(t *testing.T) {
	set, _ := newTestSet(t)
	ctx := context.Background()

	out, err := set.Call(ctx, ToolFSWrite, map[string]any{"path": "a.txt", "content": "hi"})
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, true, payload["ok"])

	out, err = set.Call(ctx, ToolFSRead, map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestSetCallRunCmd(t *testing.T) {
	set, _ := newTestSet(t)

	out, err := set.Call(context.Background(), ToolRunCmd, map[string]any{"cmd": "echo ok"})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, float64(0), payload["returncode"])
	assert.Equal(t, "ok\n", payload["stdout"])
}

func TestSetCallBlockedCommandIsResultNotError(t *testing.T) {
	set, log := newTestSet(t)

	out, err := set.Call(context.Background(), ToolRunCmd, map[string]any{"cmd": "pip install flask"})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, float64(126), payload["returncode"])

	cmds := log.Commands()
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].Blocked)
}

func TestSetCallUnknownAndUnavailable(t *testing.T) {
	set, _ := newTestSet(t)
	_, err := set.Call(context.Background(), "teleport", nil)
	assert.Error(t, err)

	noShell := &Set{FS: set.FS}
	_, err = noShell.Call(context.Background(), ToolRunCmd, map[string]any{"cmd": "ls"})
	assert.Error(t, err)
}
