package model

// Pipeline is a user-defined DAG of named steps. Dependency ordering,
// cycle detection, retries, and partial-failure handling are the remote
// executor's responsibility; the console only edits and submits the
// definition.
type Pipeline struct {
	Name       string              `json:"name" yaml:"name"`
	Version    string              `json:"version,omitempty" yaml:"version,omitempty"`
	Parameters []PipelineParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Steps      []PipelineStep      `json:"steps" yaml:"steps"`
}

// PipelineParameter declares a runtime input to a pipeline.
type PipelineParameter struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// PipelineStep is one node of the DAG.
type PipelineStep struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Action    string         `json:"action" yaml:"action"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// PipelineRun is the executor's externally-reported run state,
// passed through for display.
type PipelineRun struct {
	RunID     string          `json:"run_id"`
	Pipeline  string          `json:"pipeline"`
	Status    string          `json:"status"`
	StartedAt FlexTime        `json:"started_at"`
	EndedAt   FlexTime        `json:"ended_at,omitempty"`
	Steps     []StepRunStatus `json:"steps,omitempty"`
	Params    map[string]any  `json:"params,omitempty"`
}

// StepRunStatus is the per-step status the executor reports.
type StepRunStatus struct {
	StepID  string `json:"step_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
