package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"kazoku/internal/api"
	"kazoku/internal/filestore"
	"kazoku/internal/relay"
	"kazoku/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, relayServer *relay.Server, files filestore.FileStore, store *storage.BboltStorage, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/messages", apiHandlers.MessagesHandler)
	mux.HandleFunc("POST /api/messages", apiHandlers.PostMessageHandler)
	mux.HandleFunc("DELETE /api/messages/{id}", apiHandlers.DeleteMessageHandler)
	mux.HandleFunc("GET /api/profiles/{id}", apiHandlers.GetProfileHandler)
	mux.HandleFunc("PUT /api/profiles/{id}", apiHandlers.PutProfileHandler)
	mux.HandleFunc("POST /api/uploads", apiHandlers.UploadHandler)
	mux.HandleFunc("GET /api/files/{hash}", NewFileServerHandler(files, store))
	mux.HandleFunc("GET /transcript", apiHandlers.TranscriptHandler)

	// WebSocket endpoints
	mux.HandleFunc("GET /api/stream", relayServer.HandleStream)
	mux.HandleFunc("GET /api/presence", relayServer.HandlePresence)

	mux.Handle("GET /metrics", promhttp.Handler())

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
