package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"omnidesk-backend/internal/api/middleware"
	"omnidesk-backend/internal/env"
	"omnidesk-backend/internal/queue"
	"omnidesk-backend/utils"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func corsConfig() middleware.CORSConfig {
	origins := utils.SplitAndTrim(env.Get(env.CORSOrigins), ",")
	if len(origins) == 0 {
		// The widget is embedded on arbitrary customer pages.
		origins = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "OPTIONS", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With", "Authorization", "X-Api-Key", "X-Contact-Id", "X-Visitor-Token"},
		AllowCredentials: true,
	}
}

func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		errc := make(chan error, 1)

		job := queue.Job{
			Fn: func() error {
				return f(w, r)
			},
			Errc: errc,
		}

		s.requestQueueManager.EnqueueJob(job)

		if err := <-errc; err != nil {
			writeHandlerError(w, err)
		}
	}

	return s.wrap(baseHandler, authMiddleware...)
}

// MakeStreamingHandleFunc runs f on the caller's goroutine instead of a
// queue worker. Streams stay open for the whole client session; pushing
// them through the bounded worker pool would pin workers until the
// clients disconnect.
func (s *APIServer) MakeStreamingHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			writeHandlerError(w, err)
		}
	}

	return s.wrap(baseHandler, authMiddleware...)
}

func (s *APIServer) wrap(baseHandler http.HandlerFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	middlewares := []middleware.Middleware{
		middleware.CORS(corsConfig()),
		middleware.Logging(),
	}

	finalHandler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if len(authMiddleware) > 0 {
			authHandler := baseHandler
			for _, m := range authMiddleware {
				authHandler = m(authHandler)
			}
			authHandler(w, r)
			return
		}
		baseHandler(w, r)
	}

	return middleware.Chain(finalHandler, middlewares...)
}

func writeHandlerError(w http.ResponseWriter, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		fmt.Println(httpErr.ErrorLog)
		WriteJSON(w, httpErr.StatusCode, ApiError{Error: httpErr.Message})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, ApiError{Error: "Internal server error"})
}
