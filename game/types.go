// Package game holds the minority-game state machine: the player directory,
// the round engine, and the per-role snapshot projection. It owns no I/O and
// no locks; a single caller goroutine is expected to own the *State.
package game

// Phase is the current stage of the round lifecycle.
type Phase string

const (
	PhaseLobby  Phase = "lobby"  // no round in progress
	PhaseVoting Phase = "voting" // accepting votes
	PhaseResult Phase = "result" // round resolved, eliminations applied
	PhaseFinal  Phase = "final"  // winners snapshot taken
)

// Status is a player's standing in the game.
type Status string

const (
	StatusActive  Status = "active"  // still in contention
	StatusWaiting Status = "waiting" // registered mid-game, excluded from the current round
	StatusOut     Status = "out"     // eliminated
)

// Role is the privilege level bound to a connection.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
	RoleViewer Role = "viewer"
)

// ParseRole maps an untrusted role string to a Role, defaulting to player.
func ParseRole(s string) Role {
	switch s {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleViewer):
		return RoleViewer
	default:
		return RolePlayer
	}
}

// Choice is one of the two vote options.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
)

// ParseChoice validates an untrusted choice string.
func ParseChoice(s string) (Choice, bool) {
	switch s {
	case string(ChoiceA):
		return ChoiceA, true
	case string(ChoiceB):
		return ChoiceB, true
	}
	return "", false
}

// Player is a directory record. Votes are kept on the State, not here.
type Player struct {
	Name   string
	Status Status
	Active bool
}

// QueueEntry is one admin-curated upcoming round.
type QueueEntry struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Options  [2]string `json:"options"`
}

// Tally counts the votes per option.
type Tally struct {
	A int `json:"A"`
	B int `json:"B"`
}

// Minority returns the strictly less-voted option, or nil when either side
// received zero votes or the counts tied. A nil minority means the round is
// invalid and nobody is eliminated.
func (t Tally) Minority() *Choice {
	if t.A == 0 || t.B == 0 || t.A == t.B {
		return nil
	}
	c := ChoiceB
	if t.A < t.B {
		c = ChoiceA
	}
	return &c
}

// Result records the outcome of one revealed round.
type Result struct {
	Round      int     `json:"round"`
	Question   string  `json:"question"`
	Counts     Tally   `json:"counts"`
	Minority   *Choice `json:"minority"`
	TotalVotes int     `json:"totalVotes"`
	At         int64   `json:"at"`
}

// Winner is one entry of the final winners snapshot.
type Winner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
