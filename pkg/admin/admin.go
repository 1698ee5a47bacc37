package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/room"
	"github.com/rs/zerolog"
)

// Server is the Admin Control Plane: token-gated HTTP handlers over a
// room.Registry, mounted at GET|POST /room/{roomId}/admin/*.
type Server struct {
	registry *room.Registry
	token    string
	logger   zerolog.Logger
}

// NewServer constructs an admin Server. An empty token disables auth
// entirely (every request is accepted) — used for local development,
// never recommended for a deployed instance.
func NewServer(registry *room.Registry, token string) *Server {
	return &Server{
		registry: registry,
		token:    token,
		logger:   log.WithComponent("admin"),
	}
}

// Routes mounts the admin surface onto r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/room/{roomID}/admin", func(sub chi.Router) {
		sub.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		sub.Use(s.authenticate)

		sub.Get("/inspect", s.handleInspect)
		sub.Get("/raw-data", s.handleRawData)
		sub.Get("/live-compare", s.handleLiveCompare)
		sub.Post("/remove-subscriber", s.handleRemoveSubscriber)
		sub.Post("/force-save-live", s.handleForceSave)
		sub.Post("/force-reload-live", s.handleForceReload)
		sub.Post("/hard-reset", s.handleHardReset)
		sub.Post("/restore-raw", s.handleRestoreRaw)
	})
}

// authenticate enforces the §4.7 bearer-token gate: a token may arrive as
// either ?token= or an Authorization: Bearer header.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, req)
			return
		}

		supplied := req.URL.Query().Get("token")
		if supplied == "" {
			if auth := req.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				supplied = auth[7:]
			}
		}
		if supplied != s.token {
			s.writeError(w, req, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, req *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode admin response")
	}
	metrics.AdminRequestsTotal.WithLabelValues(routeOf(req), http.StatusText(status)).Inc()
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, status int, message string) {
	s.writeJSON(w, req, status, map[string]string{"error": http.StatusText(status), "message": message})
}

func routeOf(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return req.URL.Path
}

// roomFor canonicalizes the roomID path param and fetches (creating if
// needed) the room it refers to. Admin operations always act on a
// concrete, loaded Room: there is nothing useful to inspect about a room
// that has never been created.
func (s *Server) roomFor(req *http.Request) (*room.Room, error) {
	raw := chi.URLParam(req, "roomID")
	canonical, err := s.registry.Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	return s.registry.GetOrCreate(canonical)
}

func (s *Server) handleInspect(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	result, err := rm.Inspect()
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, result)
}

func (s *Server) handleRawData(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	result, err := rm.RawData()
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, result)
}

func (s *Server) handleLiveCompare(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	result, err := rm.LiveCompare()
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, result)
}

type removeSubscriberRequest struct {
	ConsumerRoomID string `json:"consumerRoomId"`
}

func (s *Server) handleRemoveSubscriber(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	var body removeSubscriberRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ConsumerRoomID == "" {
		s.writeError(w, req, http.StatusBadRequest, "consumerRoomId is required")
		return
	}
	removed, err := rm.RemoveSubscriber(body.ConsumerRoomID)
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleForceSave(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	if err := rm.ForceSave(); err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleForceReload(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	if err := rm.ForceReload(); err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, map[string]bool{"reloaded": true})
}

func (s *Server) handleHardReset(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	epoch, err := rm.HardReset(time.Now())
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, map[string]int64{"resetEpoch": epoch})
}

type restoreRawRequest struct {
	Snapshot  string `json:"snapshot"`
	BumpEpoch bool   `json:"bumpEpoch"`
}

func (s *Server) handleRestoreRaw(w http.ResponseWriter, req *http.Request) {
	rm, err := s.roomFor(req)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	var body restoreRawRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Snapshot == "" {
		s.writeError(w, req, http.StatusBadRequest, "snapshot is required")
		return
	}
	epoch, err := rm.RestoreRaw(body.Snapshot, body.BumpEpoch, time.Now())
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, req, http.StatusOK, map[string]int64{"resetEpoch": epoch})
}
