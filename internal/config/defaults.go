package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProjectID: "default",
		Store: StoreConfig{
			Path:          ".taskforge/taskforge.db",
			HistoryWindow: 5,
		},
		Orchestrator: OrchestratorConfig{
			Workers:            0, // Sized to available cores
			StepTimeoutSeconds: 120,
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialIntervalMS: 100,
				MaxIntervalMS:     10000,
				Multiplier:        2.0,
			},
		},
		Workflows: map[string]WorkflowConfig{},
	}
}
