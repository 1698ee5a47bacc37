package room

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/log"
)

// BridgeServer exposes a Registry's bridge.Party surface over HTTP, the
// recipient side of bridge.HTTPParty's POST /room/{roomId} calls in a
// multi-instance deployment.
type BridgeServer struct {
	registry *Registry
}

// NewBridgeServer constructs a BridgeServer backed by registry.
func NewBridgeServer(registry *Registry) *BridgeServer {
	return &BridgeServer{registry: registry}
}

// Routes mounts the bridge RPC endpoint at POST /room/{roomID}.
func (s *BridgeServer) Routes(r chi.Router) {
	r.Post("/room/{roomID}", s.handleRPC)
}

func (s *BridgeServer) handleRPC(w http.ResponseWriter, req *http.Request) {
	roomID := chi.URLParam(req, "roomID")

	var env bridge.Envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	resp, err := s.registry.Fetch(req.Context(), roomID, env)
	if err != nil {
		log.WithComponent("bridge-http").Warn().Err(err).Str("room_id", roomID).Msg("bridge RPC failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithComponent("bridge-http").Error().Err(err).Msg("failed to encode bridge response")
	}
}
