package router

import (
	"net/http"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/endpoints"
	"omnidesk-backend/internal/api/middleware"
	channelservice "omnidesk-backend/internal/service/channel"
	conversationservice "omnidesk-backend/internal/service/conversation"
	ingestservice "omnidesk-backend/internal/service/ingest"
)

// InboxRoutes mounts the agent inbox. The pipeline is injected because
// the server owns a single instance with the assignment hook installed.
func InboxRoutes(prefix string, pipeline *ingestservice.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		conversations := conversationservice.New(s.Database(), s.Bus())
		channels := channelservice.New(s.Database())
		inboxEndpoints := endpoints.NewInboxEndpoints(conversations, channels, pipeline, s.Bus(), prefix)

		mux.HandleFunc(prefix+"/inbox/contacts", s.MakeHTTPHandleFunc(inboxEndpoints.Contacts, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/inbox/contacts/", s.MakeHTTPHandleFunc(inboxEndpoints.Contact, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/inbox/stream", s.MakeStreamingHandleFunc(inboxEndpoints.Stream))
	}
}
