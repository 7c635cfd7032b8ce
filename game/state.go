package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQuestion = "Get ready"
	defaultName     = "Anonymous"
)

// State is the singleton game state. It is created once, owned by a single
// goroutine, and passed by reference into every handler; nothing here is
// safe for concurrent use.
type State struct {
	Round        int
	Phase        Phase
	Question     string
	Options      [2]string
	Votes        map[string]Choice  // playerID -> choice, current round only
	Players      map[string]*Player // playerID -> record
	PlayerOrder  []string           // playerIDs in registration order
	LastResult   *Result
	History      []*Result
	Queue        []QueueEntry
	FinalWinners []Winner
}

func NewState() *State {
	return &State{
		Phase:    PhaseLobby,
		Question: defaultQuestion,
		Options:  [2]string{"A", "B"},
		Votes:    make(map[string]Choice),
		Players:  make(map[string]*Player),
	}
}

func setPlayerStatus(p *Player, status Status) {
	if p == nil {
		return
	}
	p.Status = status
	p.Active = status == StatusActive
}

// SetStatus updates a player's status and its derived active flag together.
func (s *State) SetStatus(playerID string, status Status) {
	setPlayerStatus(s.Players[playerID], status)
}

// Ensure resolves or creates the player record for a registration.
// Resolution order: the requested id if known, then an exact display-name
// match (recovers sessions that lost their stored id), then a fresh id.
// New records are active before the first round and waiting afterwards.
func (s *State) Ensure(name, requestedID string) (string, *Player, bool) {
	displayName := strings.TrimSpace(name)
	if displayName == "" {
		displayName = defaultName
	}

	playerID := ""
	if requestedID != "" {
		if _, ok := s.Players[requestedID]; ok {
			playerID = requestedID
		}
	}

	if playerID == "" {
		for _, id := range s.PlayerOrder {
			if s.Players[id].Name == displayName {
				playerID = id
				break
			}
		}
	}

	isNew := false
	if playerID == "" {
		playerID = uuid.NewString()
		isNew = true
	}

	player, ok := s.Players[playerID]
	if !ok {
		player = &Player{}
		status := StatusWaiting
		if s.Round == 0 {
			status = StatusActive
		}
		setPlayerStatus(player, status)
		s.Players[playerID] = player
		s.PlayerOrder = append(s.PlayerOrder, playerID)
	}
	player.Name = displayName

	return playerID, player, isNew
}

// CountActive returns the number of players still in contention.
func (s *State) CountActive() int {
	active := 0
	for _, p := range s.Players {
		if p.Status == StatusActive {
			active++
		}
	}
	return active
}

// RemovePlayer deletes a player record and any outstanding vote. Only the
// explicit leave path calls this; disconnects keep the record around.
func (s *State) RemovePlayer(playerID string) {
	if playerID == "" {
		return
	}
	delete(s.Players, playerID)
	delete(s.Votes, playerID)
	for i, id := range s.PlayerOrder {
		if id == playerID {
			s.PlayerOrder = append(s.PlayerOrder[:i], s.PlayerOrder[i+1:]...)
			break
		}
	}
}

// VoteCounts tallies the current round's votes.
func (s *State) VoteCounts() Tally {
	var t Tally
	for _, choice := range s.Votes {
		switch choice {
		case ChoiceA:
			t.A++
		case ChoiceB:
			t.B++
		}
	}
	return t
}

// StartRound begins a new voting round. Blank question and option texts fall
// back to generated placeholders.
func (s *State) StartRound(question, optionA, optionB string) {
	s.Round++
	s.Phase = PhaseVoting

	s.Question = strings.TrimSpace(question)
	if s.Question == "" {
		s.Question = fmt.Sprintf("Round %d", s.Round)
	}
	s.Options[0] = strings.TrimSpace(optionA)
	if s.Options[0] == "" {
		s.Options[0] = "A"
	}
	s.Options[1] = strings.TrimSpace(optionB)
	if s.Options[1] == "" {
		s.Options[1] = "B"
	}

	s.Votes = make(map[string]Choice)
	s.LastResult = nil
	s.FinalWinners = nil
}

// RecordVote stores a vote for the current round. It reports whether the
// vote was accepted: the phase must be voting and the player must exist and
// be active. A repeated vote by the same player overwrites the previous one.
func (s *State) RecordVote(playerID string, choice Choice) bool {
	if s.Phase != PhaseVoting {
		return false
	}
	if _, ok := ParseChoice(string(choice)); !ok {
		return false
	}
	player, ok := s.Players[playerID]
	if !ok || player.Status != StatusActive {
		return false
	}
	s.Votes[playerID] = choice
	return true
}

// Reveal resolves the current round. With a defined minority, every active
// player whose vote differs from it (non-voters included) goes out; on a tie
// or a zero-vote side the round is invalid and nobody is eliminated. The
// outcome is appended to the history either way.
func (s *State) Reveal() {
	s.Phase = PhaseResult

	counts := s.VoteCounts()
	minority := counts.Minority()
	if minority != nil {
		for id, player := range s.Players {
			if player.Status != StatusActive {
				continue
			}
			if s.Votes[id] != *minority {
				setPlayerStatus(player, StatusOut)
			}
		}
	}

	s.LastResult = &Result{
		Round:      s.Round,
		Question:   s.Question,
		Counts:     counts,
		Minority:   minority,
		TotalVotes: len(s.Votes),
		At:         time.Now().UnixMilli(),
	}
	s.History = append(s.History, s.LastResult)
}

// Finalize snapshots the surviving players as the game's winners.
func (s *State) Finalize() {
	s.Phase = PhaseFinal

	winners := make([]Winner, 0, len(s.Players))
	for _, id := range s.PlayerOrder {
		if p := s.Players[id]; p.Status == StatusActive {
			winners = append(winners, Winner{ID: id, Name: p.Name})
		}
	}
	s.FinalWinners = winners
}

// Reset returns to the lobby, clears rounds, votes, results and winners, and
// reinstates every player as active. The queue survives when keepQueue is set.
func (s *State) Reset(keepQueue bool) {
	s.Round = 0
	s.Phase = PhaseLobby
	s.Question = defaultQuestion
	s.Options = [2]string{"A", "B"}
	s.Votes = make(map[string]Choice)
	s.LastResult = nil
	s.History = nil
	s.FinalWinners = nil
	if !keepQueue {
		s.Queue = nil
	}
	for _, p := range s.Players {
		setPlayerStatus(p, StatusActive)
	}
}

// AddQueueEntry appends one upcoming round to the queue.
func (s *State) AddQueueEntry(question, optionA, optionB string) QueueEntry {
	entry := QueueEntry{
		ID:       uuid.NewString(),
		Question: strings.TrimSpace(question),
	}
	if entry.Question == "" {
		entry.Question = fmt.Sprintf("Question %d", len(s.Queue)+1)
	}
	entry.Options[0] = strings.TrimSpace(optionA)
	if entry.Options[0] == "" {
		entry.Options[0] = "A"
	}
	entry.Options[1] = strings.TrimSpace(optionB)
	if entry.Options[1] == "" {
		entry.Options[1] = "B"
	}
	s.Queue = append(s.Queue, entry)
	return entry
}

// RemoveQueueEntry removes a queue entry by id, if present.
func (s *State) RemoveQueueEntry(id string) {
	for i, entry := range s.Queue {
		if entry.ID == id {
			s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
			return
		}
	}
}

// StartNextFromQueue dequeues the head entry and starts it. It refuses while
// a round is still voting or when the queue is empty, leaving state untouched.
func (s *State) StartNextFromQueue() bool {
	if s.Phase == PhaseVoting {
		return false
	}
	if len(s.Queue) == 0 {
		return false
	}
	next := s.Queue[0]
	s.Queue = s.Queue[1:]
	s.StartRound(next.Question, next.Options[0], next.Options[1])
	return true
}
