package game

// Snapshot is the authoritative state as seen by one connection. The same
// struct serves every role; fields the role may not see are nulled out.
// Tallies and the minority stay hidden until the result is revealed so that
// nobody can peek at a round in progress.
type Snapshot struct {
	Type           string     `json:"type"`
	Round          int        `json:"round"`
	Phase          Phase      `json:"phase"`
	Question       string     `json:"question"`
	Options        [2]string  `json:"options"`
	Counts         *Tally     `json:"counts"`
	Minority       *Choice    `json:"minority"`
	TotalPlayers   int        `json:"totalPlayers"`
	ActivePlayers  int        `json:"activePlayers"`
	VotesSubmitted int        `json:"votesSubmitted"`
	FinalWinners   []Winner   `json:"finalWinners"`
	You            *YouView   `json:"you"`
	LastResult     *Result    `json:"lastResult"`
	Admin          *AdminView `json:"admin,omitempty"`
}

// YouView is the per-player block, present only for registered players.
type YouView struct {
	Name   string  `json:"name"`
	Active bool    `json:"active"`
	Status Status  `json:"status"`
	Choice *Choice `json:"choice"`
	Winner *bool   `json:"winner"`
}

// AdminView extends the snapshot with the full roster, live tally, history
// and queue. Only admin connections receive it.
type AdminView struct {
	Players      []AdminPlayer `json:"players"`
	Counts       Tally         `json:"counts"`
	History      []*Result     `json:"history"`
	Queue        []QueueEntry  `json:"queue"`
	FinalWinners []Winner      `json:"finalWinners"`
}

// AdminPlayer is one roster row. Connected counts how many live connections
// are currently bound to the player; it can exceed one.
type AdminPlayer struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Active    bool    `json:"active"`
	Choice    *Choice `json:"choice"`
	Connected int     `json:"connected"`
}

func (s *State) resultVisible() bool {
	return s.Phase == PhaseResult || s.Phase == PhaseFinal
}

func (s *State) choiceOf(playerID string) *Choice {
	if choice, ok := s.Votes[playerID]; ok {
		c := choice
		return &c
	}
	return nil
}

// Snapshot projects the state for one connection. playerID may be empty for
// admins and viewers; connected maps playerID to its live connection count
// and is only consulted for the admin block.
func (s *State) Snapshot(playerID string, role Role, connected map[string]int) *Snapshot {
	counts := s.VoteCounts()

	snap := &Snapshot{
		Type:           "state",
		Round:          s.Round,
		Phase:          s.Phase,
		Question:       s.Question,
		Options:        s.Options,
		TotalPlayers:   len(s.Players),
		ActivePlayers:  s.CountActive(),
		VotesSubmitted: len(s.Votes),
		LastResult:     s.LastResult,
	}

	if s.resultVisible() {
		c := counts
		snap.Counts = &c
		snap.Minority = counts.Minority()
	}

	if s.Phase == PhaseFinal {
		snap.FinalWinners = s.FinalWinners
	}

	if player, ok := s.Players[playerID]; ok {
		you := &YouView{
			Name:   player.Name,
			Active: player.Active,
			Status: player.Status,
			Choice: s.choiceOf(playerID),
		}
		if s.Phase == PhaseFinal {
			winner := false
			for _, w := range s.FinalWinners {
				if w.ID == playerID {
					winner = true
					break
				}
			}
			you.Winner = &winner
		}
		snap.You = you
	}

	if role == RoleAdmin {
		roster := make([]AdminPlayer, 0, len(s.Players))
		for _, id := range s.PlayerOrder {
			p := s.Players[id]
			roster = append(roster, AdminPlayer{
				ID:        id,
				Name:      p.Name,
				Status:    p.Status,
				Active:    p.Active,
				Choice:    s.choiceOf(id),
				Connected: connected[id],
			})
		}
		snap.Admin = &AdminView{
			Players:      roster,
			Counts:       counts,
			History:      s.History,
			Queue:        s.Queue,
			FinalWinners: s.FinalWinners,
		}
	}

	return snap
}
