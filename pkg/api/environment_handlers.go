package api

import (
	"net/http"

	"github.com/flowdeck/flowdeck/pkg/httputil"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// CreateEnvironment creates a personal space or an organization. Creating an
// organization seeds its default roles and maps the owner to @admin.
func (s *Server) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var input iam.EnvironmentInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	env, err := s.stores.Environments.AddEnvironment(input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, env)
}

// ListEnvironments lists the environments the caller may see. Requests
// without a caller are trusted and get everything.
func (s *Server) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	environments := s.stores.Environments.GetEnvironments()
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		visible := make([]*iam.Environment, 0, len(environments))
		for _, env := range environments {
			authz, err := s.authz.GetAbilityForUser(userID, env.ID)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if authz.Can(permissions.ActionView, env.Resource()) {
				visible = append(visible, env)
			}
		}
		environments = visible
	}
	httputil.WriteSuccess(w, environments)
}

// GetEnvironment retrieves one environment.
func (s *Server) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	env, err := s.stores.Environments.GetEnvironment(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if authz, err := s.callerAbility(r, id); err == nil && authz != nil {
		if !authz.Can(permissions.ActionView, env.Resource()) {
			httputil.WriteForbidden(w, "not allowed to view this environment")
			return
		}
	}
	httputil.WriteSuccess(w, env)
}

// UpdateEnvironment updates an organization's profile fields.
func (s *Server) UpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var update iam.EnvironmentUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	authz, err := s.callerAbility(r, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	env, err := s.stores.Environments.UpdateEnvironment(id, update, authz)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, env)
}

// SetEnvironmentActive toggles an organization's active flag.
func (s *Server) SetEnvironmentActive(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	authz, err := s.callerAbility(r, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.stores.Environments.SetActive(id, body.Active, authz); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
