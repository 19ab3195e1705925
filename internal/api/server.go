package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"filemesh/internal/codec"
	"filemesh/internal/domain"
	"filemesh/internal/lifecycle"
	"filemesh/internal/ports"
	"filemesh/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type enqueueReq struct {
	Channel       string         `json:"channel"`
	OutputChannel string         `json:"output_channel"`
	Payload       domain.Payload `json:"payload"`
}

type Deps struct {
	Queue  ports.Queue
	Store  ports.Store
	PubSub ports.PubSub
	Caller *usecase.Caller
}

type Server struct {
	router *chi.Mux
	deps   Deps
	enq    usecase.Enqueuer
}

func NewServer(d Deps) *Server {
	s := &Server{router: chi.NewRouter(), deps: d, enq: usecase.Enqueuer{Q: d.Queue}}

	r := s.router
	r.Post("/enqueue", s.enqueue)
	r.Post("/tasks/{channel}", s.push)
	r.Get("/tasks/{id}", s.read)
	r.Delete("/tasks/{id}", s.remove)
	r.Get("/queues/{channel}", s.count)
	r.Post("/queues/{channel}/requeue", s.requeue)
	r.Post("/publish/{channel}", s.publish)
	r.Post("/call/{channel}", s.call)

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run method of the Server struct runs the HTTP server on the specified port. On
// SIGINT/SIGTERM/SIGUSR1/SIGUSR2 it stops accepting requests and hands over to
// coord, which waits for pending calls before closing store connections.
func (s *Server) Run(port int, coord *lifecycle.Coordinator) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	ctx, stop := lifecycle.NotifyContext(context.Background())
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}
		if err := coord.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("closing store connections")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	id, err := s.enq.Submit(r.Context(), req.Channel, req.OutputChannel, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.enq.Now(r.Context(), chi.URLParam(r, "channel"), codec.Decode(string(body)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, found, err := s.deps.Store.Read(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "payload": v, "json": v.IsJSON()})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	n, err := s.deps.Queue.Count(r.Context(), channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "count": n})
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	channel := chi.URLParam(r, "channel")
	n, err := s.deps.Queue.Requeue(r.Context(), channel, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Ctx(r.Context()).Info().Str("channel", channel).Int("requeued", n).Msg("failed tasks requeued")
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "requeued": n})
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.PubSub.Fire(r.Context(), chi.URLParam(r, "channel"), codec.Decode(string(body))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) call(w http.ResponseWriter, r *http.Request) {
	if s.deps.Caller == nil {
		http.Error(w, "calls are not enabled", http.StatusNotImplemented)
		return
	}

	var p domain.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := s.deps.Caller.Call(r.Context(), chi.URLParam(r, "channel"), p)
	var re *domain.ReplyError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, msg)
	case errors.As(err, &re):
		writeJSON(w, http.StatusBadGateway, msg)
	case errors.Is(err, usecase.ErrCallTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
