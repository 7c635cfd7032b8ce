package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func newGameServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &Config{}
	secrets := newTestSecrets(t)

	mux := httprouter.New()
	registerMinorityGame(cfg, secrets, mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("writing %v: %v", msg, err)
	}
}

// readUntil reads messages until one matches pred, failing on timeout.
func readUntil(t *testing.T, conn *websocket.Conn, what string, pred func(map[string]any) bool) map[string]any {
	t.Helper()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if pred(msg) {
			return msg
		}
	}
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	return readUntil(t, conn, msgType, func(m map[string]any) bool {
		return m["type"] == msgType
	})
}

func registerPlayer(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	sendMsg(t, conn, map[string]any{"type": "register", "role": "player", "name": name, "pass": "playerpw"})
	auth := readType(t, conn, "auth")
	if auth["ok"] != true {
		t.Fatalf("player auth = %v", auth)
	}
	registered := readType(t, conn, "registered")
	playerID, _ := registered["playerId"].(string)
	if playerID == "" {
		t.Fatal("registered message carried no player id")
	}
	return playerID
}

func registerAdmin(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendMsg(t, conn, map[string]any{"type": "register", "role": "admin", "pass": "adminpw"})
	auth := readType(t, conn, "auth")
	if auth["ok"] != true || auth["role"] != "admin" {
		t.Fatalf("admin auth = %v", auth)
	}
}

func TestStatePushedOnConnect(t *testing.T) {
	srv := newGameServer(t)
	conn := dialWS(t, srv)

	state := readType(t, conn, "state")
	if state["phase"] != "lobby" {
		t.Errorf("phase = %v, want lobby", state["phase"])
	}
	if state["round"] != float64(0) {
		t.Errorf("round = %v, want 0", state["round"])
	}
}

func TestAuthFailureClosesConnection(t *testing.T) {
	srv := newGameServer(t)
	conn := dialWS(t, srv)

	sendMsg(t, conn, map[string]any{"type": "register", "role": "admin", "pass": "wrong"})

	auth := readType(t, conn, "auth")
	if auth["ok"] != false || auth["reason"] != "invalid_password" {
		t.Fatalf("auth = %v, want failure with invalid_password", auth)
	}

	// The server closes the connection after the failure notice.
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

func TestViewerNeedsNoSecret(t *testing.T) {
	srv := newGameServer(t)
	conn := dialWS(t, srv)

	sendMsg(t, conn, map[string]any{"type": "register", "role": "viewer"})
	auth := readType(t, conn, "auth")
	if auth["ok"] != true || auth["role"] != "viewer" {
		t.Fatalf("viewer auth = %v", auth)
	}
	state := readType(t, conn, "state")
	if _, ok := state["admin"]; ok {
		t.Error("viewer snapshot carries the admin block")
	}
}

func TestRoundFlowOverWebsocket(t *testing.T) {
	srv := newGameServer(t)

	admin := dialWS(t, srv)
	registerAdmin(t, admin)

	player := dialWS(t, srv)
	playerID := registerPlayer(t, player, "Alice")

	// Reconnecting with the echoed id must resolve to the same record.
	again := dialWS(t, srv)
	sendMsg(t, again, map[string]any{"type": "register", "role": "player", "name": "Alice", "playerId": playerID, "pass": "playerpw"})
	readType(t, again, "auth")
	registered := readType(t, again, "registered")
	if registered["playerId"] != playerID {
		t.Errorf("reconnect resolved to %v, want %v", registered["playerId"], playerID)
	}

	sendMsg(t, admin, map[string]any{"type": "admin:start", "question": "Tea or coffee?", "optionA": "Tea", "optionB": "Coffee"})
	state := readUntil(t, admin, "voting state", func(m map[string]any) bool {
		return m["type"] == "state" && m["phase"] == "voting"
	})
	if state["question"] != "Tea or coffee?" {
		t.Errorf("question = %v", state["question"])
	}
	if state["counts"] != nil {
		t.Error("tally visible to clients while voting")
	}

	sendMsg(t, player, map[string]any{"type": "vote", "choice": "A"})
	readUntil(t, player, "own vote", func(m map[string]any) bool {
		if m["type"] != "state" {
			return false
		}
		you, _ := m["you"].(map[string]any)
		return you != nil && you["choice"] == "A"
	})

	sendMsg(t, admin, map[string]any{"type": "admin:reveal"})
	state = readUntil(t, admin, "result state", func(m map[string]any) bool {
		return m["type"] == "state" && m["phase"] == "result"
	})

	// One vote for A, none for B: invalid round, nobody eliminated.
	if state["minority"] != nil {
		t.Errorf("minority = %v, want null", state["minority"])
	}
	if state["activePlayers"] != float64(1) {
		t.Errorf("activePlayers = %v, want 1", state["activePlayers"])
	}
}

func TestAdminCommandsIgnoredFromPlayers(t *testing.T) {
	srv := newGameServer(t)

	player := dialWS(t, srv)
	registerPlayer(t, player, "Mallory")

	sendMsg(t, player, map[string]any{"type": "admin:start", "question": "hijack", "optionA": "", "optionB": ""})

	// A vote from a bound player always triggers a broadcast, which lets us
	// observe that the round never started.
	sendMsg(t, player, map[string]any{"type": "vote", "choice": "A"})
	state := readUntil(t, player, "post-vote state", func(m map[string]any) bool {
		return m["type"] == "state" && m["votesSubmitted"] != nil
	})
	if state["phase"] != "lobby" || state["round"] != float64(0) {
		t.Errorf("phase/round = %v/%v, want lobby/0 after a player admin:start", state["phase"], state["round"])
	}
}

func TestBulkQueueOverWebsocket(t *testing.T) {
	srv := newGameServer(t)

	admin := dialWS(t, srv)
	registerAdmin(t, admin)

	sendMsg(t, admin, map[string]any{
		"type": "admin:queue:bulk",
		"items": []map[string]any{
			{"question": "first", "optionA": "yes", "optionB": "no"},
			{"question": "second"},
			{"question": "third"},
		},
	})

	queueOf := func(m map[string]any) []any {
		adminBlock, _ := m["admin"].(map[string]any)
		if adminBlock == nil {
			return nil
		}
		queue, _ := adminBlock["queue"].([]any)
		return queue
	}

	state := readUntil(t, admin, "queued state", func(m map[string]any) bool {
		return m["type"] == "state" && len(queueOf(m)) == 3
	})
	for i, want := range []string{"first", "second", "third"} {
		entry, _ := queueOf(state)[i].(map[string]any)
		if entry["question"] != want {
			t.Errorf("queue[%d].question = %v, want %q", i, entry["question"], want)
		}
	}

	// A player-sent bulk must be ignored. The leave that follows it on the
	// same connection forces a broadcast, so the admin can observe that the
	// queue never changed.
	player := dialWS(t, srv)
	registerPlayer(t, player, "Eve")
	sendMsg(t, player, map[string]any{
		"type":  "admin:queue:bulk",
		"items": []map[string]any{{"question": "hijack"}},
	})
	sendMsg(t, player, map[string]any{"type": "leave"})

	state = readUntil(t, admin, "post-leave state", func(m map[string]any) bool {
		return m["type"] == "state" && m["totalPlayers"] == float64(0)
	})
	queue := queueOf(state)
	if len(queue) != 3 {
		t.Fatalf("queue length = %d after a player bulk, want 3", len(queue))
	}
	for _, raw := range queue {
		entry, _ := raw.(map[string]any)
		if entry["question"] == "hijack" {
			t.Error("player-sent bulk entry reached the queue")
		}
	}
}

func TestLeaveDeletesPlayerRecord(t *testing.T) {
	srv := newGameServer(t)

	admin := dialWS(t, srv)
	registerAdmin(t, admin)

	player := dialWS(t, srv)
	registerPlayer(t, player, "Alice")

	readUntil(t, admin, "roster with Alice", func(m map[string]any) bool {
		return m["type"] == "state" && m["totalPlayers"] == float64(1)
	})

	sendMsg(t, player, map[string]any{"type": "leave"})
	readUntil(t, admin, "empty roster", func(m map[string]any) bool {
		return m["type"] == "state" && m["totalPlayers"] == float64(0)
	})
}
