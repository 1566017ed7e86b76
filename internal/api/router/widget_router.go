package router

import (
	"net/http"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/endpoints"
	channelservice "omnidesk-backend/internal/service/channel"
	conversationservice "omnidesk-backend/internal/service/conversation"
	ingestservice "omnidesk-backend/internal/service/ingest"
)

// WidgetRoutes mounts the public widget API. Every route is
// unauthenticated at the HTTP layer; the channel service validates the
// api key and visitor token per call.
func WidgetRoutes(prefix string, pipeline *ingestservice.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		channels := channelservice.New(s.Database())
		conversations := conversationservice.New(s.Database(), s.Bus())
		widgetEndpoints := endpoints.NewWidgetEndpoints(channels, conversations, pipeline, s.Bus())

		mux.HandleFunc(prefix+"/widget/session", s.MakeHTTPHandleFunc(widgetEndpoints.Session))
		mux.HandleFunc(prefix+"/widget/messages", s.MakeHTTPHandleFunc(widgetEndpoints.Messages))
		mux.HandleFunc(prefix+"/widget/stream", s.MakeStreamingHandleFunc(widgetEndpoints.Stream))
	}
}
