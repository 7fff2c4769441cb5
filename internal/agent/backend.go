package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/logging"
	"github.com/fyrsmithlabs/taskcrew/internal/prompts"
	"github.com/fyrsmithlabs/taskcrew/internal/tools"
)

// BackendConfig configures the langchaingo-backed Invoker.
type BackendConfig struct {
	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string
	// APIKey authenticates against the endpoint.
	APIKey string
	// Models selects the model per role.
	Models map[Role]string
	// ProjectDir locates prompt override files.
	ProjectDir string
}

// ToolProvider hands out the capability set for a tool-using role. The
// pipeline supplies a fresh set per invocation so each round's tool events
// are recorded separately.
type ToolProvider func(role Role) *tools.Set

// Backend is the default Invoker: one OpenAI-compatible chat client per
// role, with a turn-counting tool loop for tool-using roles. Each
// GenerateContent round trip counts as one turn; exceeding the role's
// ceiling is a fatal TurnsExceededError.
type Backend struct {
	cfg      BackendConfig
	clients  map[Role]llms.Model
	provider ToolProvider
	log      *logging.Logger
}

// NewBackend builds clients for all four roles.
func NewBackend(cfg BackendConfig, provider ToolProvider, log *logging.Logger) (*Backend, error) {
	if log == nil {
		log = logging.NewNop()
	}
	clients := make(map[Role]llms.Model, len(cfg.Models))
	for role, model := range cfg.Models {
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to build client for role %s: %w", role, err)
		}
		clients[role] = client
	}
	return &Backend{cfg: cfg, clients: clients, provider: provider, log: log}, nil
}

// Invoke runs one role to completion or to its turn ceiling.
func (b *Backend) Invoke(ctx context.Context, role Role, prompt string, maxTurns int) (string, error) {
	client, ok := b.clients[role]
	if !ok {
		return "", fmt.Errorf("no client configured for role %s", role)
	}

	history := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompts.Instructions(string(role), b.cfg.ProjectDir)),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var set *tools.Set
	var opts []llms.CallOption
	if role.UsesTools() && b.provider != nil {
		set = b.provider(role)
		if defs := toolDefinitions(set); len(defs) > 0 {
			opts = append(opts, llms.WithTools(defs))
		}
	}

	b.log.Debug("invoking role",
		zap.String("role", string(role)),
		zap.Int("max_turns", maxTurns),
		zap.String("prompt_preview", redactPreview(prompt)),
	)

	for turn := 1; ; turn++ {
		if turn > maxTurns {
			return "", &TurnsExceededError{Role: role, MaxTurns: maxTurns}
		}

		resp, err := client.GenerateContent(ctx, history, opts...)
		if err != nil {
			return "", wrapBackendError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: backend returned no choices", ErrTransient)
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			return choice.Content, nil
		}
		if set == nil {
			return "", fmt.Errorf("role %s requested tools but has none", role)
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			assistant.Parts = append(assistant.Parts, llms.TextContent{Text: choice.Content})
		}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		history = append(history, assistant)

		for _, call := range choice.ToolCalls {
			result := b.execToolCall(ctx, role, set, call)
			history = append(history, llms.MessageContent{
				Role:  llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{result},
			})
		}
	}
}

// execToolCall dispatches one tool call. Tool failures are fed back to the
// role as results, not surfaced as invocation errors: a bad path or a
// blocked command is the role's problem to react to.
func (b *Backend) execToolCall(ctx context.Context, role Role, set *tools.Set, call llms.ToolCall) llms.ToolCallResponse {
	name := ""
	argsJSON := ""
	if call.FunctionCall != nil {
		name = call.FunctionCall.Name
		argsJSON = call.FunctionCall.Arguments
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return llms.ToolCallResponse{
				ToolCallID: call.ID,
				Name:       name,
				Content:    fmt.Sprintf(`{"error": %q}`, "invalid tool arguments: "+err.Error()),
			}
		}
	}

	out, err := set.Call(ctx, name, args)
	if err != nil {
		b.log.Debug("tool call failed",
			zap.String("role", string(role)),
			zap.String("tool", name),
			zap.Error(err),
		)
		out = fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return llms.ToolCallResponse{
		ToolCallID: call.ID,
		Name:       name,
		Content:    out,
	}
}

// toolDefinitions renders a capability set as function-calling tool specs.
func toolDefinitions(set *tools.Set) []llms.Tool {
	if set == nil {
		return nil
	}
	var defs []llms.Tool
	for _, name := range set.Names() {
		var def llms.Tool
		switch name {
		case tools.ToolFSRead:
			def = functionTool(name, "Read a file relative to the sandbox root.", map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative file path"},
			}, []string{"path"})
		case tools.ToolFSWrite:
			def = functionTool(name, "Write a file relative to the sandbox root, creating parents.", map[string]any{
				"path":    map[string]any{"type": "string", "description": "Relative file path"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			}, []string{"path", "content"})
		case tools.ToolFSList:
			def = functionTool(name, "List a directory relative to the sandbox root.", map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative directory path, defaults to ."},
			}, nil)
		case tools.ToolRunCmd:
			def = functionTool(name, "Run a shell command in the workspace. Install commands are blocked.", map[string]any{
				"cmd": map[string]any{"type": "string", "description": "Shell command to run"},
			}, []string{"cmd"})
		default:
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

func functionTool(name, description string, properties map[string]any, required []string) llms.Tool {
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// redactPreview trims a prompt for trace logging.
func redactPreview(text string) string {
	const max = 400
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
