package api

import (
	"net/http"

	"github.com/flowdeck/flowdeck/pkg/folders"
	"github.com/flowdeck/flowdeck/pkg/httputil"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// CreateUser registers a user.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user iam.User
	if !httputil.ParseJSONOrError(w, r, &user) {
		return
	}
	created, err := s.stores.Users.AddUser(user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// ListUsers lists the users the caller may see. The directory is global, so
// the check runs against the caller's environment-independent ability.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := s.stores.Users.GetUsers()
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		authz := s.authz.GetGlobalAbilityForUser(userID)
		visible := make([]*iam.User, 0, len(users))
		for _, user := range users {
			if authz.Can(permissions.ActionView, user.Resource()) {
				visible = append(visible, user)
			}
		}
		users = visible
	}
	httputil.WriteSuccess(w, users)
}

// GetUser retrieves a user.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	user, err := s.stores.Users.GetUser(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// CreateFolder adds a folder under an existing parent.
func (s *Server) CreateFolder(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Name     string `json:"name"`
		ParentID string `json:"parentId"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	folder, err := s.folders.Create(environmentID, body.Name, body.ParentID, r.Header.Get("X-User-ID"), authz)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, folder)
}

// ListFolders lists the folders of an environment the caller may see.
func (s *Server) ListFolders(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	authz, err := s.callerAbility(r, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	listed := s.folders.ListForEnvironment(environmentID)
	if authz != nil {
		visible := make([]*folders.Folder, 0, len(listed))
		for _, folder := range listed {
			if authz.Can(permissions.ActionView, folder.Resource()) {
				visible = append(visible, folder)
			}
		}
		listed = visible
	}
	httputil.WriteSuccess(w, listed)
}

// GetUserRules returns the computed rule set for a user in an environment,
// for debugging role configurations.
func (s *Server) GetUserRules(w http.ResponseWriter, r *http.Request) {
	environmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	ab, err := s.authz.GetAbilityForUser(userID, environmentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, ab.Rules())
}

// GetCacheStats exposes the rule cache counters.
func (s *Server) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.authz.CacheStats())
}
