package router

import (
	"net/http"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/endpoints"
	"omnidesk-backend/internal/channel/whatsapp"
	authservice "omnidesk-backend/internal/service/auth"
	channelservice "omnidesk-backend/internal/service/channel"
	ingestservice "omnidesk-backend/internal/service/ingest"
	leadservice "omnidesk-backend/internal/service/lead"
)

func WebhookRoutes(prefix string, pipeline *ingestservice.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		channels := channelservice.New(s.Database())
		whatsappRouter := whatsapp.NewRouter(pipeline, channels)
		leads := leadservice.New(s.Database())
		orgs := authservice.NewDynamoRepository(s.Database())

		webhookEndpoints := endpoints.NewWebhookEndpoints(channels, whatsappRouter, leads, orgs, s.Queue(), prefix)

		mux.HandleFunc(prefix+"/webhooks/whatsapp", s.MakeHTTPHandleFunc(webhookEndpoints.WhatsApp))
		mux.HandleFunc(prefix+"/webhooks/facebook/", s.MakeHTTPHandleFunc(webhookEndpoints.FacebookLeads))
	}
}
