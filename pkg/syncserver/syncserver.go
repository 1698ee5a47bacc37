package syncserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/room"
	"github.com/playhtml/playroom/pkg/types"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage is the discriminated client->server JSON control frame
// shape from §4.4/§4.5.5.
type controlMessage struct {
	Type       string                `json:"type"`
	Reference  *types.SharedReference `json:"reference,omitempty"`
	Element    *types.SharedElement   `json:"element,omitempty"`
	ElementIDs []string              `json:"elementIds,omitempty"`
}

// Server is the Sync Endpoint: an http.Handler for GET /room/{roomID}
// that upgrades to WebSocket and relays the CRDT sync protocol between
// clients and a room.Registry.
type Server struct {
	registry *room.Registry
	logger   zerolog.Logger

	relayMu sync.Mutex
	relays  map[string]struct{}
}

// NewServer constructs a Sync Endpoint backed by registry.
func NewServer(registry *room.Registry) *Server {
	return &Server{
		registry: registry,
		logger:   log.WithComponent("syncserver"),
		relays:   make(map[string]struct{}),
	}
}

// Routes mounts the sync endpoint at GET /room/{roomID}.
func (s *Server) Routes(r chi.Router) {
	r.Get("/room/{roomID}", s.handleConnect)
}

func (s *Server) handleConnect(w http.ResponseWriter, req *http.Request) {
	rawID := chi.URLParam(req, "roomID")

	canonical, err := s.registry.Canonicalize(rawID)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	rm, err := s.registry.GetOrCreate(canonical)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", canonical).Msg("failed to load room")
		http.Error(w, "failed to load room", http.StatusInternalServerError)
		return
	}

	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	c := newConn(connID, ws)

	query := req.URL.Query()
	s.handleQueryParams(rm, query)

	rm.Register(c)
	rm.EnsureObservers(s.registry)
	s.ensureRelay(rm)

	metrics.SyncConnectionsTotal.WithLabelValues(rm.ID()).Inc()

	if clientEpoch, ok := parseClientResetEpoch(query); ok {
		meta, err := rm.Store().GetRoomMeta(rm.ID())
		if err == nil && clientEpoch < meta.ResetEpoch {
			s.sendResetHandshake(c, meta.ResetEpoch)
		}
	}

	go c.writePump()
	s.readPump(rm, c)

	rm.Unregister(c)
	metrics.SyncConnectionsTotal.WithLabelValues(rm.ID()).Dec()
}

func (s *Server) handleQueryParams(rm *room.Room, query map[string][]string) {
	if raw, ok := firstParam(query, "sharedReferences"); ok && raw != "" {
		var refs []types.SharedReference
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			s.logger.Warn().Err(err).Msg("malformed sharedReferences query param")
		} else {
			for _, ref := range refs {
				if err := rm.AddSharedReference(context.Background(), ref); err != nil {
					s.logger.Warn().Err(err).Str("element_id", ref.ElementID).Msg("failed to add shared reference")
				}
			}
		}
	}

	if raw, ok := firstParam(query, "sharedElements"); ok && raw != "" {
		var elements []types.SharedElement
		if err := json.Unmarshal([]byte(raw), &elements); err != nil {
			s.logger.Warn().Err(err).Msg("malformed sharedElements query param")
		} else if err := rm.RegisterSharedElements(elements); err != nil {
			s.logger.Warn().Err(err).Msg("failed to register shared elements")
		}
	}
}

func firstParam(query map[string][]string, key string) (string, bool) {
	values, ok := query[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func parseClientResetEpoch(query map[string][]string) (int64, bool) {
	raw, ok := firstParam(query, "clientResetEpoch")
	if !ok || raw == "" {
		return 0, false
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return epoch, true
}

func (s *Server) sendResetHandshake(c *Conn, epoch int64) {
	msg := map[string]any{"type": "room-reset", "resetEpoch": epoch}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = c.SendText(data)
}

// readPump drains inbound frames from c until the socket closes,
// dispatching binary frames as CRDT edits, JSON control frames to their
// handlers, and any other text verbatim to the room's other connections.
func (s *Server) readPump(rm *room.Room, c *Conn) {
	defer c.stop()
	c.ws.SetReadLimit(1 << 20)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			s.applyOps(rm, c, data)
		case websocket.TextMessage:
			s.handleTextFrame(rm, c, data)
		}
	}
}

func (s *Server) applyOps(rm *room.Room, c *Conn, data []byte) {
	ops, err := decodeOps(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", rm.ID()).Msg("malformed sync op frame")
		return
	}
	if len(ops) == 0 {
		return
	}
	rm.Transact(c.ID(), func(t *crdtdoc.Txn) {
		for _, op := range ops {
			if op.Delete {
				t.Delete(op.Tag, op.ElementID)
			} else {
				t.Set(op.Tag, op.ElementID, op.Value)
			}
		}
	})
}

func (s *Server) handleTextFrame(rm *room.Room, c *Conn, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		// Not a recognized control frame: broadcast verbatim per §4.4.
		rm.BroadcastText(data, c)
		return
	}

	switch msg.Type {
	case "add-shared-reference":
		if msg.Reference == nil {
			return
		}
		if err := rm.AddSharedReference(context.Background(), *msg.Reference); err != nil {
			s.logger.Warn().Err(err).Msg("add-shared-reference failed")
		}
	case "register-shared-element":
		if msg.Element == nil {
			return
		}
		if err := rm.RegisterSharedElement(context.Background(), *msg.Element); err != nil {
			s.logger.Warn().Err(err).Msg("register-shared-element failed")
		}
	case "export-permissions":
		perms, err := rm.Store().GetSharedPermissions(rm.ID())
		if err != nil {
			s.logger.Warn().Err(err).Msg("export-permissions failed")
			return
		}
		subset := types.SharedPermissions{}
		for _, id := range msg.ElementIDs {
			if perm, ok := perms[id]; ok {
				subset[id] = perm
			}
		}
		resp, err := json.Marshal(map[string]any{"permissions": subset})
		if err == nil {
			_ = c.SendText(resp)
		}
	default:
		// Unrecognized JSON type: pass through verbatim, like any other
		// non-control text message.
		rm.BroadcastText(data, c)
	}
}

// ensureRelay starts, once per room, the loop that forwards locally
// applied doc updates to every sync connection other than the one that
// produced them. Bridge-originated updates (OriginS2C/OriginC2S) are
// relayed too: a connected client must see mirrored values just as it
// sees local ones.
func (s *Server) ensureRelay(rm *room.Room) {
	s.relayMu.Lock()
	if _, started := s.relays[rm.ID()]; started {
		s.relayMu.Unlock()
		return
	}
	s.relays[rm.ID()] = struct{}{}
	s.relayMu.Unlock()

	go s.relayLoop(rm)
}

func (s *Server) relayLoop(rm *room.Room) {
	ch := rm.Doc().Subscribe()
	defer rm.Doc().Unsubscribe(ch)

	for update := range ch {
		ids := touchedIDs(update)
		if len(ids) == 0 {
			continue
		}
		view := rm.Doc().View()
		ops := make([]Op, 0, len(ids))
		for tag, elements := range view {
			for elementID, value := range elements {
				if !containsID(ids, elementID) {
					continue
				}
				ops = append(ops, Op{Tag: tag, ElementID: elementID, Value: value})
			}
		}
		if len(ops) == 0 {
			continue
		}
		frame, err := encodeOps(ops)
		if err != nil {
			continue
		}
		rm.BroadcastBinary(frame, rm.FindConn(update.Origin))
	}
}

func touchedIDs(update crdtdoc.Update) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, elements := range update.ElementIDs {
		for _, id := range elements {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
