// internal/player/player.go

// Package player holds the per-connection record shared between the
// websocket handler, the matchmaker and the game engine.
package player

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Conn is one admitted game connection. Reader ownership moves in stages:
// the handler reads during admission, the queued-state watch (if started)
// reads while the connection waits for a game, and the engine reads from the
// moment it calls Claim. Writes go through the websocket's own serialization
// and may come from either loop of the engine.
//
// PairString and Seat are written before the connection becomes visible to
// the engine; the channels below are the only fields touched across
// goroutines afterwards.
type Conn struct {
	ID         uuid.UUID
	RemoteAddr string
	WS         *websocket.Conn

	// PairString is the matching key: "default" for the public queue,
	// anything else names a private room.
	PairString string

	// Seat is the 0-indexed player number, assigned during the handshake.
	Seat int

	gameStarted  chan struct{}
	gameFinished chan struct{}
	claimed      chan struct{}
	startOnce    sync.Once
	finishOnce   sync.Once
	claimOnce    sync.Once

	// watchDone is non-nil once WatchWhileQueued has been called; it closes
	// when the watch read has fully unwound.
	watchDone chan struct{}
}

// New wraps an accepted websocket into a Conn with a fresh id.
func New(ws *websocket.Conn, remoteAddr, pairString string) *Conn {
	return &Conn{
		ID:           uuid.New(),
		RemoteAddr:   remoteAddr,
		WS:           ws,
		PairString:   pairString,
		gameStarted:  make(chan struct{}),
		gameFinished: make(chan struct{}),
		claimed:      make(chan struct{}),
	}
}

// WatchWhileQueued keeps a read pending so a peer that drops while waiting
// for a game is noticed right away instead of at the startup timeout. A
// compliant client sends nothing in this phase, so the read can only end with
// a transport error or with the cancellation triggered by Claim. Must be
// called before the connection is handed to the matchmaker.
func (c *Conn) WatchWhileQueued() <-chan error {
	errCh := make(chan error, 1)
	c.watchDone = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.claimed:
		case <-c.watchDone:
		}
		cancel()
	}()
	go func() {
		defer close(c.watchDone)
		_, _, err := c.WS.Read(ctx)
		errCh <- err
	}()
	return errCh
}

// Claim takes reader ownership of the socket for the caller: it stops the
// queued-state watch, if any, and blocks until its pending read has unwound.
// No engine I/O may happen before Claim returns.
func (c *Conn) Claim(ctx context.Context) error {
	c.claimOnce.Do(func() { close(c.claimed) })
	if c.watchDone == nil {
		return nil
	}
	select {
	case <-c.watchDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Claimed is closed once an engine has taken reader ownership.
func (c *Conn) Claimed() <-chan struct{} { return c.claimed }

// SignalStarted marks the connection's game as started. Idempotent.
func (c *Conn) SignalStarted() {
	c.startOnce.Do(func() { close(c.gameStarted) })
}

// SignalFinished marks the connection's game as finished. Idempotent.
func (c *Conn) SignalFinished() {
	c.finishOnce.Do(func() { close(c.gameFinished) })
}

// Started is closed once the connection's lobby begins its game.
func (c *Conn) Started() <-chan struct{} { return c.gameStarted }

// Finished is closed when the connection's game tears down for any reason.
func (c *Conn) Finished() <-chan struct{} { return c.gameFinished }

// SendText writes a text frame under ctx.
func (c *Conn) SendText(ctx context.Context, s string) error {
	return c.WS.Write(ctx, websocket.MessageText, []byte(s))
}

// Send writes a frame of the given type under ctx.
func (c *Conn) Send(ctx context.Context, typ websocket.MessageType, data []byte) error {
	return c.WS.Write(ctx, typ, data)
}

// Recv reads one frame under ctx.
func (c *Conn) Recv(ctx context.Context) (websocket.MessageType, []byte, error) {
	return c.WS.Read(ctx)
}

// Store is the live-connections map. The matchmaker resolves command ids
// against it; /serverinfo reads its length as players_online.
type Store struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
}

// NewStore returns an empty live-connections store.
func NewStore() *Store {
	return &Store{conns: make(map[uuid.UUID]*Conn)}
}

// Add registers a connection.
func (s *Store) Add(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
}

// Remove deletes a connection if present.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Get resolves an id, returning false for ids whose connection is gone.
func (s *Store) Get(id uuid.UUID) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
