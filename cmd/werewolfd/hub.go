package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	werewolf "github.com/ldobbelsteen/sep-sub001"
)

// client is one websocket connection bound to a player.
type client struct {
	conn    *websocket.Conn
	player  werewolf.PlayerIdentifier
	writeMu sync.Mutex // serialize writes to the connection (required by gorilla/websocket)
}

// hub fans out notifications to connected players. Its only job is nudging
// clients that new messages are waiting; the payloads themselves are
// fetched over HTTP so delivery stays exactly-once per message id.
type hub struct {
	logger zerolog.Logger

	clients    map[*websocket.Conn]*client
	register   chan *client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

func (h *hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// notifyPlayer tells every connection of one player to poll for messages.
func (h *hub) notifyPlayer(id werewolf.PlayerIdentifier, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.player != id {
			continue
		}
		c.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("player", id.String()).Msg("websocket write failed")
		}
	}
}

// notifyInstance nudges every connected player of one instance.
func (h *hub) notifyInstance(instanceID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, c := range h.clients {
		if c.player.InstanceID != instanceID {
			continue
		}
		c.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket write failed")
		}
	}
}

func (h *hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("player", c.player.String()).Int("total", total).Msg("websocket connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("total", total).Msg("websocket disconnected")
		}
	}
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := werewolf.PlayerIdentifier{
		InstanceID: r.URL.Query().Get("instance"),
		UserID:     r.URL.Query().Get("user"),
	}
	if id.InstanceID == "" || id.UserID == "" {
		http.Error(w, "instance and user are required", http.StatusBadRequest)
		return
	}
	if _, err := s.repo.Player(r.Context(), id); err != nil {
		http.Error(w, "unknown player", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("player", id.String()).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, player: id}
	s.hub.register <- c

	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			// Clients only listen; drain until the connection drops.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
