package console

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/pipeline"
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.backend.ListPipelines(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]any{"pipelines": pipelines})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.backend.GetRun(r.Context(), r.PathValue("name"), r.PathValue("runID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"drafts": s.drafts.List()})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	p, err := s.drafts.Get(r.PathValue("name"))
	if err != nil {
		writeDraftError(w, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handlePutDraft(w http.ResponseWriter, r *http.Request) {
	var p model.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// The path is authoritative for the draft name.
	p.Name = r.PathValue("name")
	s.drafts.Replace(&p)
	writeJSON(w, &p)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Delete(r.PathValue("name")); err != nil {
		writeDraftError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraftYAML(w http.ResponseWriter, r *http.Request) {
	p, err := s.drafts.Get(r.PathValue("name"))
	if err != nil {
		writeDraftError(w, err)
		return
	}
	out, err := pipeline.ExportYAML(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

func (s *Server) handleImportDraft(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := pipeline.ImportYAML(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.drafts.Replace(p)
	writeJSON(w, p)
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	var step model.PipelineStep
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.drafts.AddStep(r.PathValue("name"), step); err != nil {
		writeDraftError(w, err)
		return
	}
	s.writeDraft(w, r.PathValue("name"))
}

func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var patch pipeline.StepPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.drafts.UpdateStep(r.PathValue("name"), r.PathValue("stepID"), patch); err != nil {
		writeDraftError(w, err)
		return
	}
	s.writeDraft(w, r.PathValue("name"))
}

func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.DeleteStep(r.PathValue("name"), r.PathValue("stepID")); err != nil {
		writeDraftError(w, err)
		return
	}
	s.writeDraft(w, r.PathValue("name"))
}

// handleExecuteDraft submits a draft to the backend executor. A draft
// with no steps is rejected here, before any backend call is made.
func (s *Server) handleExecuteDraft(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	p, err := s.drafts.Get(name)
	if err != nil {
		writeDraftError(w, err)
		return
	}
	if err := s.drafts.ValidateForExecute(name); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	var body struct {
		Params map[string]any `json:"params"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	run, err := s.backend.ExecutePipeline(r.Context(), p, body.Params)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) writeDraft(w http.ResponseWriter, name string) {
	p, err := s.drafts.Get(name)
	if err != nil {
		writeDraftError(w, err)
		return
	}
	writeJSON(w, p)
}

func writeDraftError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrDuplicateStep):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrNoSteps):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err)
}

// resourceKind validates the kind path segment before any backend call.
func resourceKind(w http.ResponseWriter, r *http.Request) (model.ResourceKind, bool) {
	kind := model.ResourceKind(r.PathValue("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown resource kind "+string(kind)))
		return "", false
	}
	return kind, true
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	kind, ok := resourceKind(w, r)
	if !ok {
		return
	}
	resources, err := s.backend.ListResources(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]any{"resources": resources})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	kind, ok := resourceKind(w, r)
	if !ok {
		return
	}
	res, err := s.backend.GetResource(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	kind, ok := resourceKind(w, r)
	if !ok {
		return
	}
	var res model.Resource
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := s.backend.CreateResource(r.Context(), kind, &res)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, created)
}

func (s *Server) handleUpdateResource(w http.ResponseWriter, r *http.Request) {
	kind, ok := resourceKind(w, r)
	if !ok {
		return
	}
	var res model.Resource
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res.ID = r.PathValue("id")
	if err := s.backend.UpdateResource(r.Context(), kind, &res); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, &res)
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	kind, ok := resourceKind(w, r)
	if !ok {
		return
	}
	if err := s.backend.DeleteResource(r.Context(), kind, r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	probes, err := s.backend.ListGuardrailProbes(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]any{"probes": probes})
}
