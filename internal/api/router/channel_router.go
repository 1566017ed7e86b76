package router

import (
	"net/http"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/endpoints"
	"omnidesk-backend/internal/api/middleware"
	channelservice "omnidesk-backend/internal/service/channel"
)

func ChannelRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := channelservice.New(s.Database())
		channelEndpoints := endpoints.NewChannelEndpoints(service, prefix)

		mux.HandleFunc(prefix+"/channels", s.MakeHTTPHandleFunc(channelEndpoints.Channels, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/channels/", s.MakeHTTPHandleFunc(channelEndpoints.Channel, middleware.ValidateAgentJWT))
	}
}
