package config

// StoreConfig locates the task database.
type StoreConfig struct {
	Path          string `json:"path"`                     // SQLite database path
	HistoryWindow int    `json:"history_window,omitempty"` // Statuses kept per task for rollback
}

// SourceConfig defines one manual task source rooted in a directory.
// Globs default to the filesystem source's standard pattern.
type SourceConfig struct {
	Root  string   `json:"root"`
	Globs []string `json:"globs,omitempty"`
}

// RetryConfig tunes per-step retry behavior. Intervals are in
// milliseconds so config files stay plain JSON numbers.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts,omitempty"`
	InitialIntervalMS int     `json:"initial_interval_ms,omitempty"`
	MaxIntervalMS     int     `json:"max_interval_ms,omitempty"`
	Multiplier        float64 `json:"multiplier,omitempty"`
}

// OrchestratorConfig tunes run execution.
type OrchestratorConfig struct {
	Workers            int         `json:"workers,omitempty"`              // 0 = available cores
	StepTimeoutSeconds int         `json:"step_timeout_seconds,omitempty"` // Bounded timeout per step attempt
	Retry              RetryConfig `json:"retry"`
}

// WorkflowConfig declares a pipeline as an ordered list of step keys.
type WorkflowConfig struct {
	Steps []string `json:"steps"`
}

// Config is the top-level configuration.
type Config struct {
	ProjectID    string                    `json:"project_id"`
	Store        StoreConfig               `json:"store"`
	Sources      []SourceConfig            `json:"sources,omitempty"`
	Orchestrator OrchestratorConfig        `json:"orchestrator"`
	Workflows    map[string]WorkflowConfig `json:"workflows"`
}
