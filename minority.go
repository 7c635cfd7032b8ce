// Minority game
//
// A moderator (admin) runs sequential rounds of binary-choice voting among
// connected players. Each round, everyone who voted with the minority option
// survives and everyone else is eliminated, until the admin freezes the
// remaining survivors as the final winners.
//
// Features:
// - One shared game over a WebSocket at /ws, JSON messages with a "type" field
// - Three roles: admin (runs rounds), player (votes), viewer (projector screen)
// - Admin and player roles authenticate with rotatable shared secrets
// - Players keep a stable id across reconnects; records survive disconnects
// - Tallies stay hidden from everyone but the admin until the reveal
// - Ties and zero-vote sides invalidate the round: nobody is eliminated
// - Admin-curated question queue, added singly or in bulk, started in order
// - Every mutation republishes a per-role snapshot to every live connection
// - In-browser QR button to share the game URL, backed by go-qrcode

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"minoritygame/game"
)

// clientMessage is the union of every inbound message body.
type clientMessage struct {
	Type     string      `json:"type"`
	Role     string      `json:"role,omitempty"`     // register
	Name     string      `json:"name,omitempty"`     // register
	PlayerID string      `json:"playerId,omitempty"` // register
	Pass     string      `json:"pass,omitempty"`     // register
	Choice   string      `json:"choice,omitempty"`   // vote
	Question string      `json:"question,omitempty"` // admin:start / admin:queue:add
	OptionA  string      `json:"optionA,omitempty"`
	OptionB  string      `json:"optionB,omitempty"`
	ID       string      `json:"id,omitempty"`    // admin:queue:remove
	Items    []queueItem `json:"items,omitempty"` // admin:queue:bulk
}

type queueItem struct {
	Question string `json:"question"`
	OptionA  string `json:"optionA"`
	OptionB  string `json:"optionB"`
}

type authMessage struct {
	Type   string    `json:"type"`
	OK     bool      `json:"ok"`
	Role   game.Role `json:"role,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type registeredMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type client struct {
	id   string // opaque connection id minted at accept time
	conn *websocket.Conn
	send chan any
}

// session is what the registry knows about one connection.
type session struct {
	role     game.Role
	playerID string // empty until a player registration binds one
}

type inboundMessage struct {
	client *client
	msg    clientMessage
}

// Hub is the session registry and broadcast dispatcher. Its run loop is the
// only goroutine that touches the game state and the connection maps, so the
// state machine never needs a lock and no mutation interleaves with another.
type Hub struct {
	cfg     *Config
	secrets *Secrets
	state   *game.State

	clients  map[string]*client // connection id -> client
	sessions map[string]session // connection id -> binding

	register   chan *client
	unregister chan *client
	inbound    chan inboundMessage
}

func newHub(cfg *Config, secrets *Secrets) *Hub {
	return &Hub{
		cfg:        cfg,
		secrets:    secrets,
		state:      game.NewState(),
		clients:    make(map[string]*client),
		sessions:   make(map[string]session),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundMessage),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.sessions[c.id] = session{role: game.RolePlayer}

			// Push the current state immediately so the client can render
			// before deciding how to register.
			h.sendTo(c, h.snapshotFor(c))

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				h.drop(c)

				// Player records survive disconnects; only the binding goes
				// away. Republish so admin connection counts stay accurate.
				h.republish()
			}

		case in := <-h.inbound:
			h.handle(in.client, in.msg)
		}
	}
}

// drop removes a connection from the registry and closes its send channel,
// which terminates its writePump and with it the underlying socket.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	delete(h.sessions, c.id)
	close(c.send)
}

// sendTo queues a message without blocking; clients that cannot keep up are
// dropped rather than stalling the loop.
func (h *Hub) sendTo(c *client, msg any) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) connectedCounts() map[string]int {
	counts := make(map[string]int)
	for _, sess := range h.sessions {
		if sess.playerID != "" {
			counts[sess.playerID]++
		}
	}
	return counts
}

func (h *Hub) snapshotFor(c *client) *game.Snapshot {
	sess := h.sessions[c.id]
	return h.state.Snapshot(sess.playerID, sess.role, h.connectedCounts())
}

// republish pushes a freshly projected snapshot to every live connection.
// Every state-changing handler ends here; there are no partial updates.
func (h *Hub) republish() {
	counts := h.connectedCounts()
	for _, c := range h.clients {
		sess := h.sessions[c.id]
		h.sendTo(c, h.state.Snapshot(sess.playerID, sess.role, counts))
	}
}

func (h *Hub) handle(c *client, msg clientMessage) {
	// A slow client may have been dropped with messages still in flight.
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	sess := h.sessions[c.id]

	switch msg.Type {
	case "register":
		h.handleRegister(c, msg)

	case "leave":
		if sess.playerID == "" {
			return
		}
		logf(h.cfg, "GAME: Player %s left", sess.playerID)
		h.state.RemovePlayer(sess.playerID)
		h.sessions[c.id] = session{role: sess.role}
		h.republish()

	case "vote":
		if sess.playerID == "" {
			return
		}
		if choice, ok := game.ParseChoice(msg.Choice); ok {
			h.state.RecordVote(sess.playerID, choice)
		}
		h.republish()

	case "admin:start":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.StartRound(msg.Question, msg.OptionA, msg.OptionB)
		logf(h.cfg, "GAME: Round %d started: %q", h.state.Round, h.state.Question)
		h.republish()

	case "admin:queue:add":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.AddQueueEntry(msg.Question, msg.OptionA, msg.OptionB)
		h.republish()

	case "admin:queue:bulk":
		if sess.role != game.RoleAdmin || len(msg.Items) == 0 {
			return
		}
		for _, item := range msg.Items {
			h.state.AddQueueEntry(item.Question, item.OptionA, item.OptionB)
		}
		logf(h.cfg, "GAME: Queued %d questions in bulk", len(msg.Items))
		h.republish()

	case "admin:queue:remove":
		if sess.role != game.RoleAdmin || msg.ID == "" {
			return
		}
		h.state.RemoveQueueEntry(msg.ID)
		h.republish()

	case "admin:next":
		if sess.role != game.RoleAdmin {
			return
		}
		if h.state.StartNextFromQueue() {
			logf(h.cfg, "GAME: Round %d started from queue: %q", h.state.Round, h.state.Question)
			h.republish()
		}

	case "admin:reveal":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.Reveal()
		logf(h.cfg, "GAME: Round %d revealed, %d players remain", h.state.Round, h.state.CountActive())
		h.republish()

	case "admin:final":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.Finalize()
		logf(h.cfg, "GAME: Finalized with %d winners", len(h.state.FinalWinners))
		h.republish()

	case "admin:reset":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.Reset(false)
		h.republish()

	case "admin:reset:keep-queue":
		if sess.role != game.RoleAdmin {
			return
		}
		h.state.Reset(true)
		h.republish()

	default:
		// ignore unknown types
	}
}

func (h *Hub) handleRegister(c *client, msg clientMessage) {
	role := game.ParseRole(msg.Role)

	// Viewers carry no identity and need no secret.
	if role == game.RoleViewer {
		h.sessions[c.id] = session{role: game.RoleViewer}
		h.sendTo(c, authMessage{Type: "auth", OK: true, Role: role})
		h.sendTo(c, h.snapshotFor(c))
		return
	}

	if !h.secrets.check(role, strings.TrimSpace(msg.Pass)) {
		logf(h.cfg, "WS: Rejected %s registration on connection %s", role, c.id)
		h.sendTo(c, authMessage{Type: "auth", OK: false, Reason: "invalid_password"})
		h.drop(c)
		return
	}

	if role == game.RoleAdmin {
		h.sessions[c.id] = session{role: game.RoleAdmin}
		h.sendTo(c, authMessage{Type: "auth", OK: true, Role: role})
		h.sendTo(c, h.snapshotFor(c))
		return
	}

	playerID, player, isNew := h.state.Ensure(msg.Name, msg.PlayerID)
	if player.Status == game.StatusWaiting && h.state.Round == 0 {
		h.state.SetStatus(playerID, game.StatusActive)
	}
	h.sessions[c.id] = session{role: game.RolePlayer, playerID: playerID}

	h.sendTo(c, authMessage{Type: "auth", OK: true, Role: game.RolePlayer})

	// Echo the resolved id so the client can persist it for reconnects.
	h.sendTo(c, registeredMessage{Type: "registered", PlayerID: playerID})

	if isNew {
		logf(h.cfg, "GAME: Player %q registered", player.Name)
	}
	h.republish()
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed payloads are dropped without closing the connection.
			continue
		}

		h.inbound <- inboundMessage{client: c, msg: msg}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "WS: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		// The server's request deadlines linger on the hijacked socket.
		_ = conn.SetReadDeadline(time.Time{})
		_ = conn.SetWriteDeadline(time.Time{})

		c := &client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, 8),
		}

		hub.register <- c

		go c.writePump()
		c.readPump(hub)
	}
}

// qrHandler generates a PNG QR code for the login URL, for sharing the game
// from a projector screen.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr; strip the trailing "/qr" to get the join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")
	if path == "" {
		path = "/"
	}

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerMinorityGame wires the game into the router:
//   - /ws → the shared game WebSocket
//   - /qr → PNG QR code for the join URL
func registerMinorityGame(cfg *Config, secrets *Secrets, mux *httprouter.Router) *Hub {
	hub := newHub(cfg, secrets)
	go hub.run()

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+"/qr", qrHandler)

	return hub
}
