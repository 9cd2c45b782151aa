package api

import (
	"net/http"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/httputil"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// CreateRoleMapping assigns a role to a user in an organization.
func (s *Server) CreateRoleMapping(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var input iam.RoleMappingInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	input.EnvironmentID = environmentID

	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	mapping, err := s.stores.RoleMappings.AddMapping(input, authz)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, mapping)
}

// ListRoleMappings lists the mappings of an environment the caller may see.
func (s *Server) ListRoleMappings(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, filterMappings(s.stores.RoleMappings.GetAllMappings(environmentID), authz))
}

// ListUserRoleMappings lists one user's mappings in an environment, reduced
// to what the caller may see.
func (s *Server) ListUserRoleMappings(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, filterMappings(s.stores.RoleMappings.GetMappingsForUser(userID, environmentID), authz))
}

// filterMappings keeps the mappings the ability allows viewing. A nil
// ability means a trusted call and keeps everything.
func filterMappings(mappings []*iam.RoleMapping, authz *ability.Ability) []*iam.RoleMapping {
	if authz == nil {
		return mappings
	}
	visible := make([]*iam.RoleMapping, 0, len(mappings))
	for _, mapping := range mappings {
		if authz.Can(permissions.ActionView, mapping.Resource()) {
			visible = append(visible, mapping)
		}
	}
	return visible
}

// DeleteRoleMapping removes a user's role assignment.
func (s *Server) DeleteRoleMapping(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.stores.RoleMappings.RemoveMapping(userID, roleID, environmentID, authz); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AddMember adds a user to an organization.
func (s *Server) AddMember(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.stores.Memberships.AddMember(environmentID, body.UserID, authz); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]string{"userId": body.UserID, "environmentId": environmentID})
}

// ListMembers lists the members of an organization the caller may see.
func (s *Server) ListMembers(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	members := s.stores.Memberships.GetMembers(environmentID)
	if authz != nil {
		visible := make([]*iam.Membership, 0, len(members))
		for _, member := range members {
			subject := ability.Resource{Type: ability.ResourceUser, ID: member.UserID}
			if authz.Can(permissions.ActionView, subject) {
				visible = append(visible, member)
			}
		}
		members = visible
	}
	httputil.WriteSuccess(w, members)
}

// RemoveMember removes a user from an organization, cascading into their
// role mappings.
func (s *Server) RemoveMember(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.stores.Memberships.RemoveMember(environmentID, userID, authz); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
