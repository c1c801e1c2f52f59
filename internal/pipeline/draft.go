// Package pipeline holds the console-side DAG editor model: in-memory
// pipeline drafts mutated step by step and submitted whole to the
// remote executor. The console validates only that a pipeline has
// steps; dependency ordering, cycle detection, and retry semantics are
// entirely the executor's concern.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

var (
	// ErrNotFound is returned for unknown pipeline or step names.
	ErrNotFound = errors.New("not found")
	// ErrNoSteps gates execution of an empty pipeline.
	ErrNoSteps = errors.New("pipeline has no steps")
	// ErrDuplicateStep is returned when adding a step whose id exists.
	ErrDuplicateStep = errors.New("step id already exists")
)

// DraftStore keeps editable pipeline definitions keyed by name.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]*model.Pipeline
}

// NewDraftStore creates an empty draft store.
func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]*model.Pipeline)}
}

// List returns all draft names.
func (d *DraftStore) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.drafts))
	for name := range d.drafts {
		names = append(names, name)
	}
	return names
}

// Get returns a deep copy of the named draft.
func (d *DraftStore) Get(name string) (*model.Pipeline, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.drafts[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	return clonePipeline(p), nil
}

// Replace installs a full definition, creating or overwriting the named
// draft. The stored copy is detached from the caller's.
func (d *DraftStore) Replace(p *model.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[p.Name] = clonePipeline(p)
}

// Delete removes a draft.
func (d *DraftStore) Delete(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.drafts[name]; !ok {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	delete(d.drafts, name)
	return nil
}

// AddStep appends a step to the named draft.
func (d *DraftStore) AddStep(name string, step model.PipelineStep) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.drafts[name]
	if !ok {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	for i := range p.Steps {
		if p.Steps[i].ID == step.ID {
			return fmt.Errorf("step %q: %w", step.ID, ErrDuplicateStep)
		}
	}
	p.Steps = append(p.Steps, step)
	return nil
}

// StepPatch carries the partial-update fields for a step. Nil fields
// are left untouched.
type StepPatch struct {
	Name      *string         `json:"name,omitempty"`
	Action    *string         `json:"action,omitempty"`
	Params    *map[string]any `json:"params,omitempty"`
	DependsOn *[]string       `json:"depends_on,omitempty"`
}

// UpdateStep applies a partial update to one step of the named draft.
func (d *DraftStore) UpdateStep(name, stepID string, patch StepPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.drafts[name]
	if !ok {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	for i := range p.Steps {
		if p.Steps[i].ID != stepID {
			continue
		}
		if patch.Name != nil {
			p.Steps[i].Name = *patch.Name
		}
		if patch.Action != nil {
			p.Steps[i].Action = *patch.Action
		}
		if patch.Params != nil {
			p.Steps[i].Params = *patch.Params
		}
		if patch.DependsOn != nil {
			p.Steps[i].DependsOn = *patch.DependsOn
		}
		return nil
	}
	return fmt.Errorf("step %q: %w", stepID, ErrNotFound)
}

// DeleteStep removes a step and prunes its id from every other step's
// depends_on list.
func (d *DraftStore) DeleteStep(name, stepID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.drafts[name]
	if !ok {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}

	idx := -1
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("step %q: %w", stepID, ErrNotFound)
	}
	p.Steps = append(p.Steps[:idx], p.Steps[idx+1:]...)

	for i := range p.Steps {
		deps := p.Steps[i].DependsOn
		pruned := deps[:0]
		for _, dep := range deps {
			if dep != stepID {
				pruned = append(pruned, dep)
			}
		}
		p.Steps[i].DependsOn = pruned
	}
	return nil
}

// ValidateForExecute is the only client-side execution gate: the
// pipeline must exist and have at least one step.
func (d *DraftStore) ValidateForExecute(name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.drafts[name]
	if !ok {
		return fmt.Errorf("pipeline %q: %w", name, ErrNotFound)
	}
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}
	return nil
}

func clonePipeline(p *model.Pipeline) *model.Pipeline {
	out := &model.Pipeline{
		Name:    p.Name,
		Version: p.Version,
	}
	out.Parameters = append([]model.PipelineParameter(nil), p.Parameters...)
	for _, step := range p.Steps {
		cp := step
		cp.DependsOn = append([]string(nil), step.DependsOn...)
		if step.Params != nil {
			cp.Params = make(map[string]any, len(step.Params))
			for k, v := range step.Params {
				cp.Params[k] = v
			}
		}
		out.Steps = append(out.Steps, cp)
	}
	return out
}
