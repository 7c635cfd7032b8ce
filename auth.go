package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	"minoritygame/game"
)

// Secrets holds the two shared role secrets as bcrypt hashes. The hub loop
// reads it while the password endpoint rotates it concurrently, so unlike
// the game state it carries its own lock. Rotation is in-memory only.
type Secrets struct {
	mu         sync.RWMutex
	adminHash  []byte
	playerHash []byte
}

func newSecrets(adminPass, playerPass string) (*Secrets, error) {
	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminPass), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	playerHash, err := bcrypt.GenerateFromPassword([]byte(playerPass), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Secrets{
		adminHash:  adminHash,
		playerHash: playerHash,
	}, nil
}

// check reports whether pass is the current secret for role. Viewers carry
// no secret and always fail here; callers must not route them through.
func (s *Secrets) check(role game.Role, pass string) bool {
	s.mu.RLock()
	hash := s.playerHash
	if role == game.RoleAdmin {
		hash = s.adminHash
	}
	s.mu.RUnlock()

	return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
}

// resolve maps a submitted secret to the highest role it unlocks.
func (s *Secrets) resolve(pass string) (game.Role, bool) {
	if s.check(game.RoleAdmin, pass) {
		return game.RoleAdmin, true
	}
	if s.check(game.RolePlayer, pass) {
		return game.RolePlayer, true
	}
	return "", false
}

// rotate replaces either secret in place. Empty values leave the
// corresponding secret unchanged.
func (s *Secrets) rotate(newAdmin, newPlayer string) error {
	var adminHash, playerHash []byte
	var err error

	if newAdmin != "" {
		adminHash, err = bcrypt.GenerateFromPassword([]byte(newAdmin), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
	}
	if newPlayer != "" {
		playerHash, err = bcrypt.GenerateFromPassword([]byte(newPlayer), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if adminHash != nil {
		s.adminHash = adminHash
	}
	if playerHash != nil {
		s.playerHash = playerHash
	}
	s.mu.Unlock()

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type loginRequest struct {
	Pass string `json:"pass"`
}

type loginResponse struct {
	OK   bool      `json:"ok"`
	Role game.Role `json:"role,omitempty"`
}

// serveLogin checks a submitted secret and returns the role it unlocks, so
// the login page can route the browser to the right client.
func serveLogin(cfg *Config, secrets *Secrets) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		securityHeaders(cfg, w)

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, loginResponse{OK: false})
			return
		}

		role, ok := secrets.resolve(strings.TrimSpace(req.Pass))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, loginResponse{OK: false})
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{OK: true, Role: role})

		logf(cfg, "SERVE: Login check (%s) for %s in %s",
			role,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

type passwordRequest struct {
	AdminPass     string `json:"adminPass"`
	NewAdminPass  string `json:"newAdminPass"`
	NewPlayerPass string `json:"newPlayerPass"`
}

type passwordResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// servePassword rotates either role secret, gated by the current admin
// secret. Changes take effect immediately for subsequent registrations and
// do not survive a restart.
func servePassword(cfg *Config, secrets *Secrets) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		var req passwordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, passwordResponse{OK: false, Reason: "bad_request"})
			return
		}

		if !secrets.check(game.RoleAdmin, strings.TrimSpace(req.AdminPass)) {
			writeJSON(w, http.StatusUnauthorized, passwordResponse{OK: false, Reason: "unauthorized"})
			return
		}

		if err := secrets.rotate(strings.TrimSpace(req.NewAdminPass), strings.TrimSpace(req.NewPlayerPass)); err != nil {
			writeJSON(w, http.StatusInternalServerError, passwordResponse{OK: false, Reason: "rotate_failed"})
			return
		}

		logf(cfg, "SERVE: Password rotation by %s", realIP(r))

		writeJSON(w, http.StatusOK, passwordResponse{OK: true})
	}
}
