package httpapi

import (
	"net/http"
	"time"

	"windscope.org/internal/audit"
	"windscope.org/internal/auth"
)

type auditEntryResponse struct {
	ID          string                    `json:"id"`
	ActorID     string                    `json:"actor_id"`
	Action      string                    `json:"action"`
	EntityType  string                    `json:"entity_type"`
	EntityID    string                    `json:"entity_id"`
	EntityName  string                    `json:"entity_name,omitempty"`
	Description string                    `json:"description"`
	ProjectID   string                    `json:"project_id,omitempty"`
	Changes     map[string]map[string]any `json:"changes,omitempty"`
	IPAddress   string                    `json:"ip_address,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// handleAuditList serves the audit trail to administrators, filtered by
// query parameters: actor_id, project_id, entity_type, action, since,
// until (RFC 3339), limit and offset.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if user.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin access required")
		return
	}
	if a.audits == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		ActorID:    q.Get("actor_id"),
		ProjectID:  q.Get("project_id"),
		EntityType: audit.EntityType(q.Get("entity_type")),
		Action:     audit.Action(q.Get("action")),
	}
	var err error
	if f.Limit, err = parsePositiveInt(q.Get("limit"), 100, 1, 1000); err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	if f.Offset, err = parsePositiveInt(q.Get("offset"), 0, 0, 1<<30); err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if raw := q.Get("since"); raw != "" {
		if f.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
	}
	if raw := q.Get("until"); raw != "" {
		if f.Until, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
	}

	records, err := a.audits.List(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	total, err := a.audits.Count(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]auditEntryResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, auditEntryResponse{
			ID:          rec.ID,
			ActorID:     rec.ActorID,
			Action:      string(rec.Action),
			EntityType:  string(rec.EntityType),
			EntityID:    rec.EntityID,
			EntityName:  rec.EntityName,
			Description: rec.Description,
			ProjectID:   rec.ProjectID,
			Changes:     rec.Changes,
			IPAddress:   rec.IPAddress,
			Timestamp:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"total":   total,
	})
}
