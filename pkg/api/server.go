// Package api exposes the identity and authorization stores over HTTP. Every
// mutating route resolves the caller's ability first and hands it to the
// store operation, which checks it before touching any state.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/authorization"
	"github.com/flowdeck/flowdeck/pkg/folders"
	"github.com/flowdeck/flowdeck/pkg/httputil"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/observability"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

// Server holds the handler dependencies.
type Server struct {
	stores  *iam.Stores
	folders *folders.Store
	authz   *authorization.Service
	metrics *observability.Metrics
	logger  *logrus.Entry
	router  *mux.Router
}

// NewServer builds the HTTP surface over the given stores and authorization
// service.
func NewServer(stores *iam.Stores, folderStore *folders.Store, authz *authorization.Service, metrics *observability.Metrics, logger *logrus.Entry) *Server {
	s := &Server{
		stores:  stores,
		folders: folderStore,
		authz:   authz,
		metrics: metrics,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(httputil.RequestIDMiddleware)
	r.Use(httputil.LoggingMiddleware(s.logger))
	r.Use(httputil.RecoveryMiddleware(s.logger))

	r.HandleFunc("/environments", s.CreateEnvironment).Methods("POST")
	r.HandleFunc("/environments", s.ListEnvironments).Methods("GET")
	r.HandleFunc("/environments/{id}", s.GetEnvironment).Methods("GET")
	r.HandleFunc("/environments/{id}", s.UpdateEnvironment).Methods("PUT")
	r.HandleFunc("/environments/{id}/active", s.SetEnvironmentActive).Methods("PUT")

	r.HandleFunc("/environments/{id}/roles", s.CreateRole).Methods("POST")
	r.HandleFunc("/environments/{id}/roles", s.ListRoles).Methods("GET")
	r.HandleFunc("/roles/{roleId}", s.GetRole).Methods("GET")
	r.HandleFunc("/roles/{roleId}", s.UpdateRole).Methods("PUT")
	r.HandleFunc("/roles/{roleId}", s.DeleteRole).Methods("DELETE")

	r.HandleFunc("/environments/{id}/role-mappings", s.CreateRoleMapping).Methods("POST")
	r.HandleFunc("/environments/{id}/role-mappings", s.ListRoleMappings).Methods("GET")
	r.HandleFunc("/environments/{id}/users/{userId}/role-mappings", s.ListUserRoleMappings).Methods("GET")
	r.HandleFunc("/environments/{id}/users/{userId}/role-mappings/{roleId}", s.DeleteRoleMapping).Methods("DELETE")

	r.HandleFunc("/environments/{id}/members", s.AddMember).Methods("POST")
	r.HandleFunc("/environments/{id}/members", s.ListMembers).Methods("GET")
	r.HandleFunc("/environments/{id}/members/{userId}", s.RemoveMember).Methods("DELETE")

	r.HandleFunc("/environments/{id}/folders", s.CreateFolder).Methods("POST")
	r.HandleFunc("/environments/{id}/folders", s.ListFolders).Methods("GET")

	r.HandleFunc("/users", s.CreateUser).Methods("POST")
	r.HandleFunc("/users", s.ListUsers).Methods("GET")
	r.HandleFunc("/users/{userId}", s.GetUser).Methods("GET")

	r.HandleFunc("/environments/{id}/users/{userId}/rules", s.GetUserRules).Methods("GET")
	r.HandleFunc("/authorization/cache/stats", s.GetCacheStats).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.InstrumentHandler(routeTemplate(r, s.router), s.router).ServeHTTP(w, r)
		return
	}
	s.router.ServeHTTP(w, r)
}

// routeTemplate resolves the route pattern for the metrics path label.
func routeTemplate(r *http.Request, router *mux.Router) string {
	var match mux.RouteMatch
	if router.Match(r, &match) && match.Route != nil {
		if template, err := match.Route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "unmatched"
}

// callerAbility resolves the ability of the user named in the X-User-ID
// header for the environment the route targets. Requests without the header
// are trusted system calls and get a nil ability.
func (s *Server) callerAbility(r *http.Request, environmentID string) (*ability.Ability, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return nil, nil
	}
	return s.authz.GetAbilityForUser(userID, environmentID)
}

// writeStoreError maps the store error kinds onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var unauthorized *ability.UnauthorizedError
	switch {
	case errors.As(err, &unauthorized):
		httputil.WriteForbidden(w, unauthorized.Error())
	case errors.Is(err, iam.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, iam.ErrAlreadyExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, iam.ErrInvalidState):
		httputil.WriteUnprocessable(w, err.Error())
	case errors.Is(err, iam.ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
