// internal/matchmaker/matchmaker.go

// Package matchmaker turns a stream of add/remove commands into started
// lobbies. All matching state is owned by a single service goroutine; the
// only way in is the bounded command channel, so commands are processed
// strictly in arrival order and no external locking is needed.
package matchmaker

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plurabus/gameserver/internal/metrics"
	"github.com/plurabus/gameserver/internal/player"
	"github.com/plurabus/gameserver/internal/registry"
	"github.com/plurabus/gameserver/internal/stats"
)

type cmdKind int

const (
	cmdAdd cmdKind = iota
	cmdRemove
	cmdFinished
	cmdCounts
	cmdEnd
)

// command carries only a connection id (or a finished lobby); the actor
// resolves ids against the live store and silently ignores stale ones.
type command struct {
	kind  cmdKind
	id    uuid.UUID
	lobby *Lobby
	reply chan Counts
}

// Counts is a point-in-time view of the matchmaker's collections.
type Counts struct {
	WaitingPublic  int
	WaitingPrivate int
	Running        int
}

// Matchmaker pairs connections that share a pair-string into lobbies of a
// fixed size. Two instances run side by side in production, one per game
// size (2 and 4).
type Matchmaker struct {
	desired int
	conns   *player.Store

	// LobbyKeys is the expiring registry of private room keys. It is shared
	// with the HTTP layer, which validates /g/{key} requests against it; the
	// stored value is this matchmaker's game size.
	LobbyKeys *registry.Registry[int]

	cmds chan command
	done chan struct{}

	// startGame dispatches a full lobby's game engine. Injected so tests can
	// observe started lobbies without real sockets.
	startGame func(*Lobby)

	gamesPlayed *stats.Counter
	sleep       time.Duration
	log         *logrus.Entry

	// Actor-owned state. Touched only by the Run goroutine.
	publicLobbies  []*Lobby
	privateLobbies map[string]*Lobby
	running        map[uuid.UUID]*Lobby

	// runningMembers maps connection id to the id of its started lobby. The
	// engine owns a started lobby's Players slice (it reorders seats during
	// the handshake), so post-start removes must consult this frozen copy,
	// never the slice.
	runningMembers map[uuid.UUID]uuid.UUID
}

// New builds a matchmaker for lobbies of the given size.
func New(logger *logrus.Logger, desired int, conns *player.Store, keys *registry.Registry[int], gamesPlayed *stats.Counter, buffer int, sleep time.Duration, startGame func(*Lobby)) *Matchmaker {
	return &Matchmaker{
		desired:        desired,
		conns:          conns,
		LobbyKeys:      keys,
		cmds:           make(chan command, buffer),
		done:           make(chan struct{}),
		startGame:      startGame,
		gamesPlayed:    gamesPlayed,
		sleep:          sleep,
		log:            logger.WithField("prompt", "Matchmaker"),
		privateLobbies: make(map[string]*Lobby),
		running:        make(map[uuid.UUID]*Lobby),
		runningMembers: make(map[uuid.UUID]uuid.UUID),
	}
}

// DesiredPlayers returns the lobby size this matchmaker assembles.
func (m *Matchmaker) DesiredPlayers() int { return m.desired }

// Add enqueues a join for the given connection id. Blocks if the command
// buffer is full; the producer is a per-connection handler that would
// otherwise idle.
func (m *Matchmaker) Add(id uuid.UUID) {
	m.send(command{kind: cmdAdd, id: id})
}

// Remove enqueues a leave for the given connection id. Unknown ids are a
// no-op, so callers may issue it unconditionally during cleanup.
func (m *Matchmaker) Remove(id uuid.UUID) {
	m.send(command{kind: cmdRemove, id: id})
}

// Finished tells the matchmaker a started lobby's engine has exited.
func (m *Matchmaker) Finished(l *Lobby) {
	m.send(command{kind: cmdFinished, lobby: l})
}

// Counts returns a snapshot of the matching collections. Because it round-
// trips through the command channel, every command enqueued before it is
// fully processed by the time it returns.
func (m *Matchmaker) Counts() Counts {
	reply := make(chan Counts, 1)
	m.send(command{kind: cmdCounts, reply: reply})
	select {
	case c := <-reply:
		return c
	case <-m.done:
		return Counts{}
	}
}

// End shuts the service goroutine down after it drains queued commands.
func (m *Matchmaker) End() {
	m.send(command{kind: cmdEnd})
}

func (m *Matchmaker) send(c command) {
	select {
	case m.cmds <- c:
	case <-m.done:
	}
}

// Run is the service loop. It must be the only goroutine touching the
// matching collections.
func (m *Matchmaker) Run() {
	defer close(m.done)
	for cmd := range m.cmds {
		switch cmd.kind {
		case cmdAdd:
			m.handleAdd(cmd.id)
		case cmdRemove:
			m.handleRemove(cmd.id)
		case cmdFinished:
			m.handleFinished(cmd.lobby)
		case cmdCounts:
			cmd.reply <- Counts{
				WaitingPublic:  len(m.publicLobbies),
				WaitingPrivate: len(m.privateLobbies),
				Running:        len(m.running),
			}
		case cmdEnd:
			m.log.Infof("matchmaker for %d players shutting down", m.desired)
			return
		}
		if m.sleep > 0 {
			time.Sleep(m.sleep)
		}
	}
}

func (m *Matchmaker) handleAdd(id uuid.UUID) {
	conn, ok := m.conns.Get(id)
	if !ok {
		// Connection vanished between enqueue and service; stale command.
		return
	}

	var lob *Lobby
	if conn.PairString == PublicPairString {
		if len(m.publicLobbies) > 0 {
			lob = m.publicLobbies[0]
		}
	} else {
		lob = m.privateLobbies[conn.PairString]
	}

	if lob == nil {
		lob = newLobby(conn.PairString, m.desired, conn)
		if conn.PairString == PublicPairString {
			m.publicLobbies = append(m.publicLobbies, lob)
		} else {
			m.privateLobbies[conn.PairString] = lob
		}
		m.log.Infof("new lobby %s for pair string %q (%d/%d)", lob.ID, lob.PairString, len(lob.Players), m.desired)
		return
	}

	lob.Players = append(lob.Players, conn)
	m.log.Infof("connection %s joined lobby %s (%d/%d)", conn.ID, lob.ID, len(lob.Players), m.desired)
	if lob.full() {
		m.startLobby(lob)
	}
}

// startLobby pops a full lobby from its waiting collection, freezes its
// membership and dispatches the game engine.
func (m *Matchmaker) startLobby(lob *Lobby) {
	if lob.PairString == PublicPairString {
		for i, l := range m.publicLobbies {
			if l == lob {
				m.publicLobbies = append(m.publicLobbies[:i], m.publicLobbies[i+1:]...)
				break
			}
		}
	} else {
		delete(m.privateLobbies, lob.PairString)
	}

	lob.Started = true
	m.running[lob.ID] = lob
	for _, p := range lob.Players {
		m.runningMembers[p.ID] = lob.ID
	}
	m.gamesPlayed.Inc()
	metrics.GamesPlayed.Inc()

	// Last read of lob.Players on this goroutine; the engine owns it from the
	// dispatch below onward.
	m.log.Infof("lobby %s started with %d players (pair string %q)", lob.ID, len(lob.Players), lob.PairString)
	go m.startGame(lob)
}

func (m *Matchmaker) handleRemove(id uuid.UUID) {
	// Waiting public lobbies first.
	for i, lob := range m.publicLobbies {
		if lob.removePlayer(id) {
			if len(lob.Players) == 0 {
				m.publicLobbies = append(m.publicLobbies[:i], m.publicLobbies[i+1:]...)
			}
			m.log.Infof("connection %s left waiting public lobby %s", id, lob.ID)
			return
		}
	}
	// Then waiting private lobbies.
	for key, lob := range m.privateLobbies {
		if lob.removePlayer(id) {
			if len(lob.Players) == 0 {
				delete(m.privateLobbies, key)
			}
			m.log.Infof("connection %s left waiting private lobby %s", id, lob.ID)
			return
		}
	}
	// A remove for a started lobby just drops the bookkeeping entries; the
	// engine notices the dead peer through its own broadcast failure.
	if lid, ok := m.runningMembers[id]; ok {
		delete(m.running, lid)
		m.dropMembers(lid)
		m.log.Infof("connection %s gone, dropped running lobby %s", id, lid)
	}
}

// dropMembers clears the frozen membership entries of a started lobby.
func (m *Matchmaker) dropMembers(lobbyID uuid.UUID) {
	for id, lid := range m.runningMembers {
		if lid == lobbyID {
			delete(m.runningMembers, id)
		}
	}
}

func (m *Matchmaker) handleFinished(lob *Lobby) {
	if lob == nil {
		return
	}
	if _, ok := m.running[lob.ID]; ok {
		delete(m.running, lob.ID)
		m.dropMembers(lob.ID)
		m.log.Infof("lobby %s finished", lob.ID)
	}
}
