// internal/matchmaker/lobby.go
package matchmaker

import (
	"time"

	"github.com/google/uuid"
	"github.com/plurabus/gameserver/internal/player"
)

// PublicPairString is the sentinel pair-string naming the public queue. Any
// other value selects a private room by exact match.
const PublicPairString = "default"

// Lobby is the runtime container for a set of paired connections. Until
// Started it belongs to the matchmaker goroutine and membership may change;
// once Started the membership is frozen and the game engine takes over.
type Lobby struct {
	ID             uuid.UUID
	PairString     string
	DesiredPlayers int
	Players        []*player.Conn
	Started        bool
	CreatedAt      time.Time
}

func newLobby(pairString string, desired int, first *player.Conn) *Lobby {
	return &Lobby{
		ID:             uuid.New(),
		PairString:     pairString,
		DesiredPlayers: desired,
		Players:        []*player.Conn{first},
		CreatedAt:      time.Now(),
	}
}

func (l *Lobby) full() bool {
	return len(l.Players) == l.DesiredPlayers
}

// removePlayer drops the given connection id, reporting whether it was present.
func (l *Lobby) removePlayer(id uuid.UUID) bool {
	for i, c := range l.Players {
		if c.ID == id {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			return true
		}
	}
	return false
}
