package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// ExportYAML renders a pipeline definition as YAML, the format shown in
// the console's definition preview.
func ExportYAML(p *model.Pipeline) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline %q: %w", p.Name, err)
	}
	return data, nil
}

// ImportYAML parses a YAML pipeline definition. The definition must
// carry a name; step-level correctness stays with the executor.
func ImportYAML(data []byte) (*model.Pipeline, error) {
	var p model.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline definition: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("pipeline definition missing name")
	}
	return &p, nil
}
