package api

import (
	"net/http"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/httputil"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// CreateRole creates a role in an organization.
func (s *Server) CreateRole(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var input iam.RoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	input.EnvironmentID = environmentID

	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	role, err := s.stores.Roles.CreateRole(input, authz)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles lists the roles of an environment the caller may see.
func (s *Server) ListRoles(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	roles := s.stores.Roles.GetRoles(environmentID)
	if authz != nil {
		resources := make([]ability.Resource, len(roles))
		for i, role := range roles {
			resources[i] = role.Resource()
		}
		visible := make([]*iam.Role, 0, len(roles))
		for _, i := range authz.FilterIndex(permissions.ActionView, resources) {
			visible = append(visible, roles[i])
		}
		roles = visible
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole retrieves a role, including its derived member summaries.
func (s *Server) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	role, err := s.stores.Roles.GetRoleWithMembers(roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial role update.
func (s *Server) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	var update iam.RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	role, err := s.stores.Roles.GetRole(roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	authz, err := s.callerAbility(r, role.EnvironmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	updated, err := s.stores.Roles.UpdateRole(roleID, update, authz)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteRole deletes a role and cascades into its mappings.
func (s *Server) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	role, err := s.stores.Roles.GetRole(roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	authz, err := s.callerAbility(r, role.EnvironmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.stores.Roles.DeleteRole(roleID, authz); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
