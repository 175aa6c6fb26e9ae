package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/rules"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// pagination describes one page of a list response.
type pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := rules.ListFilter{}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "enabled must be true or false")
			return
		}
		filter.Enabled = &enabled
	}

	all, err := s.registry.List(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit, offset := pageParams(r)
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"rules":      all[offset:end],
		"pagination": pagination{Total: total, Limit: limit, Offset: offset},
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}

	created, err := s.lifecycle.CreateRule(r.Context(), def)
	if err != nil {
		status := http.StatusInternalServerError
		var verr *rules.ValidationError
		switch {
		case errors.As(err, &verr):
			status = http.StatusBadRequest
		case errors.Is(err, rules.ErrRuleExists):
			status = http.StatusConflict
		}
		respondError(w, status, err.Error())
		return
	}
	respondData(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, def)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var def rules.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}
	def.ID = chi.URLParam(r, "ruleID")

	updated, err := s.lifecycle.UpdateRule(r.Context(), def)
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	def, err := s.lifecycle.EnableRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, def)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	def, err := s.lifecycle.DisableRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, def)
}

func respondRuleError(w http.ResponseWriter, err error) {
	if errors.Is(err, rules.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// classifyRequest is the body for manual classify and unclassify.
type classifyRequest struct {
	ColumnKey string `json:"column_key"`
	RuleID    string `json:"rule_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	ref, err := catalog.ParseKey(req.ColumnKey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RuleID == "" {
		respondError(w, http.StatusBadRequest, "rule_id is required")
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	res, err := s.orchestrator.Classify(r.Context(), ref, req.RuleID, req.Actor)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondData(w, http.StatusOK, res)
}

func (s *Server) handleUnclassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	ref, err := catalog.ParseKey(req.ColumnKey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	res, err := s.orchestrator.Unclassify(r.Context(), ref, req.RuleID, req.Actor, req.Reason)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, res)
}

// scanRequest narrows a scan to a data source, a rule, or both.
type scanRequest struct {
	DataSourceID string `json:"data_source_id,omitempty"`
	RuleID       string `json:"rule_id,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
			return
		}
	}

	summary, err := s.orchestrator.Scan(r.Context(), catalog.Scope{
		DataSourceID: req.DataSourceID,
		RuleID:       req.RuleID,
	})
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, summary)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.lifecycle.CleanupOrphaned(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, report)
}

func (s *Server) handleListClassifications(w http.ResponseWriter, r *http.Request) {
	var (
		records []govstore.Record
		err     error
	)
	if piiType := r.URL.Query().Get("pii_type"); piiType != "" {
		records, err = s.store.RecordsByPIIType(piiType)
	} else if ruleID := r.URL.Query().Get("rule_id"); ruleID != "" {
		records, err = s.store.RecordsByRule(ruleID)
	} else {
		records, err = s.store.ListRecords()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit, offset := pageParams(r)
	total := len(records)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"classifications": records[offset:end],
		"pagination":      pagination{Total: total, Limit: limit, Offset: offset},
	})
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	status := govstore.IssueStatus(r.URL.Query().Get("status"))
	if status != "" && status != govstore.IssueOpen && status != govstore.IssueResolved {
		respondError(w, http.StatusBadRequest, "status must be open or resolved")
		return
	}

	issues, err := s.store.ListIssues(status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"issues": issues})
}

func (s *Server) handleListExclusions(w http.ResponseWriter, r *http.Request) {
	exclusions, err := s.store.ListExclusions()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"exclusions": exclusions})
}

func (s *Server) handleRemoveExclusion(w http.ResponseWriter, r *http.Request) {
	columnKey := r.URL.Query().Get("column_key")
	ruleID := r.URL.Query().Get("rule_id")
	if columnKey == "" || ruleID == "" {
		respondError(w, http.StatusBadRequest, "column_key and rule_id are required")
		return
	}
	ref, err := catalog.ParseKey(columnKey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.RemoveExclusion(r.Context(), ref, ruleID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CollectStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, stats)
}
