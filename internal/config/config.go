// Package config provides configuration loading for taskcrew.
//
// Configuration is loaded from an optional YAML file, then overridden by
// CREW_* environment variables. Validation failures abort startup before any
// role runs; nothing else in the engine is allowed to abort the process.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Role names used as configuration keys.
const (
	RolePlanner     = "planner"
	RoleImplementer = "implementer"
	RoleReviewer    = "reviewer"
	RoleTechWriter  = "tech_writer"
)

// Config holds the complete taskcrew configuration.
type Config struct {
	Backend  BackendConfig  `koanf:"backend"`
	Model    ModelConfig    `koanf:"model"`
	MaxTurns MaxTurnsConfig `koanf:"maxturns"`
	Retry    RetryConfig    `koanf:"retry"`
	Review   ReviewConfig   `koanf:"review"`
	Planner  PlannerConfig  `koanf:"planner"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Paths    PathsConfig    `koanf:"paths"`
	Shell    ShellConfig    `koanf:"shell"`
	Log      LogConfig      `koanf:"log"`
}

// BackendConfig holds the agent backend endpoint configuration.
type BackendConfig struct {
	// BaseURL is the OpenAI-compatible endpoint for role invocations.
	BaseURL string `koanf:"base_url"`
	// APIKey authenticates against the backend. Redacted in logs.
	APIKey Secret `koanf:"api_key"`
}

// ModelConfig selects the model per role.
type ModelConfig struct {
	Planner     string `koanf:"planner"`
	Implementer string `koanf:"implementer"`
	Reviewer    string `koanf:"reviewer"`
	TechWriter  string `koanf:"tech_writer"`
}

// MaxTurnsConfig caps backend interaction turns per role. The implementer
// ceiling is materially larger because only that role performs many small
// tool actions.
type MaxTurnsConfig struct {
	Planner     int `koanf:"planner"`
	Implementer int `koanf:"implementer"`
	Reviewer    int `koanf:"reviewer"`
	TechWriter  int `koanf:"tech_writer"`
}

// RetryConfig controls the retry envelope around role invocations.
// Backoff is deterministic (no jitter) so a logged run can be replayed
// from its ledger.
type RetryConfig struct {
	MaxAttempts            int      `koanf:"max_attempts"`
	PlannerMaxAttempts     int      `koanf:"planner_max_attempts"`
	ImplementerMaxAttempts int      `koanf:"implementer_max_attempts"`
	ReviewerMaxAttempts    int      `koanf:"reviewer_max_attempts"`
	TechWriterMaxAttempts  int      `koanf:"tech_writer_max_attempts"`
	BaseDelay              Duration `koanf:"base_delay"`
	MaxDelay               Duration `koanf:"max_delay"`
}

// ReviewConfig caps the evidence blocks injected into the reviewer prompt.
type ReviewConfig struct {
	DiffMaxChars     int    `koanf:"diff_max_chars"`
	RedflagsMaxChars int    `koanf:"redflags_max_chars"`
	RulesFile        string `koanf:"rules_file"`
}

// PlannerConfig holds planner-specific prompt limits.
type PlannerConfig struct {
	BacklogMaxChars int `koanf:"backlog_max_chars"`
}

// PipelineConfig holds fixup loop limits.
type PipelineConfig struct {
	MaxRounds int `koanf:"max_rounds"`
}

// PathsConfig locates the project metadata and the product workspace.
type PathsConfig struct {
	// Project holds tasks, vision/architecture/conventions docs and reports.
	Project string `koanf:"project"`
	// Workspace is the product subtree the implementer may mutate.
	Workspace string `koanf:"workspace"`
	// Reports overrides the ledger root; defaults to <project>/reports.
	Reports string `koanf:"reports"`
}

// ShellConfig controls the implementer command sandbox.
type ShellConfig struct {
	CmdTimeout Duration `koanf:"cmd_timeout"`
}

// LogConfig mirrors logging.Config for env loading.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

const defaultModel = "gpt-5.1-codex-mini"

// Default returns a Config with every default applied and no environment or
// file input considered.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills in zero values after unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model.Planner == "" {
		cfg.Model.Planner = defaultModel
	}
	if cfg.Model.Implementer == "" {
		cfg.Model.Implementer = defaultModel
	}
	if cfg.Model.Reviewer == "" {
		cfg.Model.Reviewer = defaultModel
	}
	if cfg.Model.TechWriter == "" {
		cfg.Model.TechWriter = defaultModel
	}
	if cfg.MaxTurns.Planner == 0 {
		cfg.MaxTurns.Planner = 6
	}
	if cfg.MaxTurns.Implementer == 0 {
		cfg.MaxTurns.Implementer = 40
	}
	if cfg.MaxTurns.Reviewer == 0 {
		cfg.MaxTurns.Reviewer = 10
	}
	if cfg.MaxTurns.TechWriter == 0 {
		cfg.MaxTurns.TechWriter = 10
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = Duration(time.Second)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(8 * time.Second)
	}
	if cfg.Review.DiffMaxChars == 0 {
		cfg.Review.DiffMaxChars = 12000
	}
	if cfg.Review.RedflagsMaxChars == 0 {
		cfg.Review.RedflagsMaxChars = 4000
	}
	if cfg.Planner.BacklogMaxChars == 0 {
		cfg.Planner.BacklogMaxChars = 8000
	}
	if cfg.Pipeline.MaxRounds == 0 {
		cfg.Pipeline.MaxRounds = 8
	}
	if cfg.Paths.Project == "" {
		cfg.Paths.Project = "project"
	}
	if cfg.Paths.Workspace == "" {
		cfg.Paths.Workspace = "workspace"
	}
	if cfg.Shell.CmdTimeout == 0 {
		cfg.Shell.CmdTimeout = Duration(30 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxTurns.Planner < 1 || c.MaxTurns.Implementer < 1 ||
		c.MaxTurns.Reviewer < 1 || c.MaxTurns.TechWriter < 1 {
		errs = append(errs, errors.New("maxturns: all role ceilings must be >= 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry: max_attempts must be >= 1"))
	}
	for _, n := range []int{
		c.Retry.PlannerMaxAttempts, c.Retry.ImplementerMaxAttempts,
		c.Retry.ReviewerMaxAttempts, c.Retry.TechWriterMaxAttempts,
	} {
		if n < 0 {
			errs = append(errs, errors.New("retry: per-role max_attempts must be >= 0"))
			break
		}
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry: max_delay must be >= base_delay"))
	}
	if c.Review.DiffMaxChars < 0 || c.Review.RedflagsMaxChars < 0 {
		errs = append(errs, errors.New("review: character caps must be >= 0"))
	}
	if c.Pipeline.MaxRounds < 1 {
		errs = append(errs, errors.New("pipeline: max_rounds must be >= 1"))
	}
	if c.Paths.Project == "" || c.Paths.Workspace == "" {
		errs = append(errs, errors.New("paths: project and workspace are required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ModelFor returns the configured model for a role.
func (c *Config) ModelFor(role string) string {
	switch role {
	case RolePlanner:
		return c.Model.Planner
	case RoleImplementer:
		return c.Model.Implementer
	case RoleReviewer:
		return c.Model.Reviewer
	case RoleTechWriter:
		return c.Model.TechWriter
	}
	return defaultModel
}

// MaxTurnsFor returns the configured turn ceiling for a role.
func (c *Config) MaxTurnsFor(role string) int {
	switch role {
	case RolePlanner:
		return c.MaxTurns.Planner
	case RoleImplementer:
		return c.MaxTurns.Implementer
	case RoleReviewer:
		return c.MaxTurns.Reviewer
	case RoleTechWriter:
		return c.MaxTurns.TechWriter
	}
	return 10
}

// RetryAttemptsFor returns the attempt ceiling for a role. A per-role
// override takes precedence over the global ceiling.
func (c *Config) RetryAttemptsFor(role string) int {
	perRole := 0
	switch role {
	case RolePlanner:
		perRole = c.Retry.PlannerMaxAttempts
	case RoleImplementer:
		perRole = c.Retry.ImplementerMaxAttempts
	case RoleReviewer:
		perRole = c.Retry.ReviewerMaxAttempts
	case RoleTechWriter:
		perRole = c.Retry.TechWriterMaxAttempts
	}
	if perRole > 0 {
		return perRole
	}
	return c.Retry.MaxAttempts
}

// ReportsRoot returns the ledger root directory.
func (c *Config) ReportsRoot() string {
	if c.Paths.Reports != "" {
		return c.Paths.Reports
	}
	return c.Paths.Project + "/reports"
}

func roleNames() []string {
	return []string{RolePlanner, RoleImplementer, RoleReviewer, RoleTechWriter}
}

// Models returns the per-role model selection as a map for the ledger.
func (c *Config) Models() map[string]string {
	out := make(map[string]string, 4)
	for _, role := range roleNames() {
		out[role] = c.ModelFor(role)
	}
	return out
}

// TurnCeilings returns the per-role turn ceilings as a map for the ledger.
func (c *Config) TurnCeilings() map[string]int {
	out := make(map[string]int, 4)
	for _, role := range roleNames() {
		out[role] = c.MaxTurnsFor(role)
	}
	return out
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{backend=%s model=%+v maxturns=%+v rounds=%d}",
		c.Backend.BaseURL, c.Model, c.MaxTurns, c.Pipeline.MaxRounds)
}
