package router

import (
	"net/http"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/endpoints"
	"omnidesk-backend/internal/api/middleware"
)

func AuthRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		authEndpoints := endpoints.NewAuthEndpoints(s.Database())
		mux.HandleFunc(prefix+"/auth/register", s.MakeHTTPHandleFunc(authEndpoints.Register))
		mux.HandleFunc(prefix+"/auth/login", s.MakeHTTPHandleFunc(authEndpoints.Login))
		mux.HandleFunc(prefix+"/auth/refresh", s.MakeHTTPHandleFunc(authEndpoints.Refresh))
		mux.HandleFunc(prefix+"/auth/me", s.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/auth/switch", s.MakeHTTPHandleFunc(authEndpoints.Switch, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/auth/agents", s.MakeHTTPHandleFunc(authEndpoints.Agents, middleware.ValidateAgentJWT))
	}
}
