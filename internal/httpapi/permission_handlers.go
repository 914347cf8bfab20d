package httpapi

import (
	"net/http"
	"strings"

	"athenaeum.org/internal/auth"
)

// handleUserResource dispatches /v1/users/{id}/permissions and
// /v1/users/{id}/permissions/{name}. All operations require the
// canManagePermissions permission.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "permissions" {
		http.NotFound(w, r)
		return
	}
	userID := parts[0]

	if err := a.requirePermission(r.Context(), auth.PermManagePermissions); err != nil {
		handleAuthError(w, r, err)
		return
	}

	switch {
	case len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			a.effectivePermissions(w, r, userID)
		case http.MethodPut:
			a.updateOverrides(w, r, userID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case len(parts) == 3 && parts[2] != "":
		name := parts[2]
		switch r.Method {
		case http.MethodPost:
			a.grantPermission(w, r, userID, name)
		case http.MethodDelete:
			a.revokePermission(w, r, userID, name)
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		}
	default:
		http.NotFound(w, r)
	}
}

func (a *API) effectivePermissions(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := a.auth.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) grantPermission(w http.ResponseWriter, r *http.Request, userID, name string) {
	if err := a.auth.GrantPermission(r.Context(), userID, name, a.actorID(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "granted", "permission": name})
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request, userID, name string) {
	if err := a.auth.RevokePermission(r.Context(), userID, name, a.actorID(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "permission": name})
}

type overridesRequest struct {
	Granted []string `json:"granted"`
	Revoked []string `json:"revoked"`
}

func (a *API) updateOverrides(w http.ResponseWriter, r *http.Request, userID string) {
	var req overridesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.UpdateOverrides(r.Context(), userID, req.Granted, req.Revoked, a.actorID(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	view, err := a.auth.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) actorID(r *http.Request) string {
	principal, _ := auth.PrincipalFromContext(r.Context())
	return principal.UserID
}
