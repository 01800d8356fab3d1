package httpapi

import (
	"net/http"
	"strings"

	"windscope.org/internal/audit"
	"windscope.org/internal/auth"
	"windscope.org/internal/obs"
)

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	users, err := a.auth.AllUsers(r.Context(), admin.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": userViews(users)})
}

func (a *API) handleAdminPendingUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	users, err := a.auth.PendingUsers(r.Context(), admin.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": userViews(users)})
}

// handleAdminUserResource routes /v1/admin/users/{id} and
// /v1/admin/users/{id}/approve.
func (a *API) handleAdminUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}

	if id, found := strings.CutSuffix(path, "/approve"); found {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.approveUser(w, r, admin, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		a.deleteUser(w, r, admin, path)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) approveUser(w http.ResponseWriter, r *http.Request, admin *auth.User, targetID string) {
	if targetID == "" {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	user, err := a.auth.Approve(r.Context(), admin.ID, targetID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.recordAudit(r, admin, audit.Entry{
		Action:     audit.ActionApprove,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		EntityName: user.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user approved",
		"user":    userView(user),
	})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, admin *auth.User, targetID string) {
	if err := a.auth.DeleteUser(r.Context(), admin.ID, targetID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.recordAudit(r, admin, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityUser,
		EntityID:   targetID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "user deleted"})
}

// recordAudit appends an account-level audit entry. Same policy as the
// fleet service: the action already happened, so a failed write is
// logged and counted, never surfaced.
func (a *API) recordAudit(r *http.Request, actor *auth.User, e audit.Entry) {
	if a.audits == nil {
		return
	}
	e.ActorID = actor.ID
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	if _, err := a.audits.Record(r.Context(), e); err != nil {
		obs.AuditWriteFailed()
		obs.Log(map[string]any{
			"level":  "warn",
			"msg":    "audit write failed",
			"action": string(e.Action),
			"entity": string(e.EntityType),
			"err":    err.Error(),
		})
	}
}

func userViews(users []*auth.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	return out
}
