package model

import "encoding/json"

// The console's resource surfaces (clusters, models, projects, tools,
// guardrail probes) are passthroughs: the backend owns the schema and
// only identity/display fields are typed here. Everything else rides in
// Extra so round-trips never lose fields.

// Resource is one record from a generic CRUD surface.
type Resource struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status string         `json:"status,omitempty"`
	Extra  map[string]any `json:"-"`
}

// UnmarshalJSON keeps unrecognized fields in Extra so updates written
// back to the backend do not drop schema the console never typed.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["id"].(string); ok {
		r.ID = v
	}
	if v, ok := m["name"].(string); ok {
		r.Name = v
	}
	if v, ok := m["status"].(string); ok {
		r.Status = v
	}
	delete(m, "id")
	delete(m, "name")
	delete(m, "status")
	if len(m) > 0 {
		r.Extra = m
	}
	return nil
}

// MarshalJSON merges typed fields back over Extra.
func (r Resource) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["id"] = r.ID
	m["name"] = r.Name
	if r.Status != "" {
		m["status"] = r.Status
	}
	return json.Marshal(m)
}

// GuardrailProbe is one guardrail probe as listed by the backend.
type GuardrailProbe struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Provider string   `json:"provider,omitempty"`
	Status   string   `json:"status,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ResourceKind names a generic CRUD surface on the backend.
type ResourceKind string

const (
	KindCluster ResourceKind = "clusters"
	KindModel   ResourceKind = "models"
	KindProject ResourceKind = "projects"
	KindTool    ResourceKind = "tools"
)

// Valid reports whether the kind is one the backend serves.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindCluster, KindModel, KindProject, KindTool:
		return true
	}
	return false
}
