// internal/game/engine.go

// Package game runs the per-lobby engine: the startup handshake, the frame
// relay loop and the game-lifetime timer. The server never interprets relayed
// payloads beyond the reserved control strings.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/plurabus/gameserver/internal/config"
	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/metrics"
	"github.com/plurabus/gameserver/internal/player"
)

// Control strings on the wire.
const (
	MsgGo           = "Go"
	MsgTimer        = "TIMER"
	MsgTimeout      = "TIMEOUT"
	MsgFrameTimeout = "FRAME_TIMEOUT"
	MsgDisconnect   = "DISCONNECT"
	MsgResign       = "RESIGN"
)

// Sentinel errors describing why a game ended. They cancel the engine's task
// group; only transport errors are unexpected.
var (
	errLifetimeReached = errors.New("game lifetime reached")
	errFrameTimeout    = errors.New("frame timeout")
	errClientEnded     = errors.New("client ended game")
)

// MatchRecord summarizes a finished game for the optional historian queue.
type MatchRecord struct {
	LobbyID    string  `json:"lobby_id"`
	PairString string  `json:"pair_string"`
	Players    int     `json:"players"`
	Outcome    string  `json:"outcome"`
	Duration   float64 `json:"duration_seconds"`
	StartedAt  int64   `json:"started_at"`
}

// Recorder receives match records after teardown. Implementations must not
// block the engine for long; publishing is best-effort.
type Recorder interface {
	RecordMatch(ctx context.Context, rec MatchRecord) error
}

// Engine drives one started lobby from handshake to teardown.
type Engine struct {
	lobby    *matchmaker.Lobby
	cfg      *config.Config
	log      *logrus.Entry
	onFinish func(*matchmaker.Lobby)
	recorder Recorder
}

// New builds an engine for a started lobby. onFinish is invoked exactly once
// after teardown (the matchmaker's Finished); recorder may be nil.
func New(logger *logrus.Logger, cfg *config.Config, lob *matchmaker.Lobby, onFinish func(*matchmaker.Lobby), recorder Recorder) *Engine {
	return &Engine{
		lobby:    lob,
		cfg:      cfg,
		log:      logger.WithField("prompt", fmt.Sprintf("Lobby %s", lob.ID)),
		onFinish: onFinish,
		recorder: recorder,
	}
}

// Run executes the whole game. It always signals every connection's
// gameFinished event and notifies the matchmaker before returning, no matter
// how the game ends.
func (e *Engine) Run(ctx context.Context) {
	started := time.Now()
	outcome := "error"

	defer func() {
		for _, c := range e.lobby.Players {
			c.SignalFinished()
		}
		if e.onFinish != nil {
			e.onFinish(e.lobby)
		}
		metrics.GamesEnded.WithLabelValues(outcome).Inc()
		if e.recorder != nil {
			recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			rec := MatchRecord{
				LobbyID:    e.lobby.ID.String(),
				PairString: e.lobby.PairString,
				Players:    len(e.lobby.Players),
				Outcome:    outcome,
				Duration:   time.Since(started).Seconds(),
				StartedAt:  started.Unix(),
			}
			if err := e.recorder.RecordMatch(recCtx, rec); err != nil {
				e.log.Warnf("failed to record match: %v", err)
			}
		}
		e.log.Infof("game over (%s) after %s", outcome, time.Since(started).Round(time.Second))
	}()

	if err := e.handshake(ctx); err != nil {
		e.log.Infof("handshake failed: %v", err)
		outcome = "handshake_failed"
		return
	}

	for _, c := range e.lobby.Players {
		c.SignalStarted()
	}
	e.log.Infof("handshake complete, %d players in game", len(e.lobby.Players))

	g, gameCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.relayLoop(gameCtx) })
	g.Go(func() error { return e.timerLoop(gameCtx) })

	err := g.Wait()
	switch {
	case err == nil || errors.Is(err, errLifetimeReached):
		outcome = "timeout"
	case errors.Is(err, errFrameTimeout):
		outcome = "frame_timeout"
	case errors.Is(err, errClientEnded):
		outcome = "ended_by_client"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	default:
		outcome = "peer_gone"
		e.log.Infof("game ended on transport error: %v", err)
	}
}

// handshake seats the players and walks each one through the ready/set
// exchange. The whole phase is bounded by the startup timeout and every
// individual send or receive by the frame timeout.
func (e *Engine) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StartupTimeout)
	defer cancel()

	players := e.lobby.Players
	rand.Shuffle(len(players), func(i, j int) {
		players[i], players[j] = players[j], players[i]
	})
	for i, c := range players {
		c.Seat = i
	}

	// Take reader ownership from the admission watchers before the first
	// frame goes out.
	for i, c := range players {
		if err := c.Claim(ctx); err != nil {
			return fmt.Errorf("seat %d claim: %w", i, err)
		}
	}

	for i, c := range players {
		if err := e.sendOne(ctx, c, e.lobby.PairString); err != nil {
			return fmt.Errorf("seat %d pair string: %w", i, err)
		}
		if err := e.recvOne(ctx, c); err != nil {
			return fmt.Errorf("seat %d ready: %w", i, err)
		}
		if err := e.sendOne(ctx, c, fmt.Sprintf("P%d", i+1)); err != nil {
			return fmt.Errorf("seat %d number: %w", i, err)
		}
		if err := e.recvOne(ctx, c); err != nil {
			return fmt.Errorf("seat %d set: %w", i, err)
		}
	}

	// Seat 0 fires the starting gun for everyone.
	if err := e.sendOne(ctx, players[0], MsgGo); err != nil {
		return fmt.Errorf("go: %w", err)
	}
	if err := e.recvOne(ctx, players[0]); err != nil {
		return fmt.Errorf("start ack: %w", err)
	}
	return nil
}

func (e *Engine) sendOne(ctx context.Context, c *player.Conn, msg string) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
	defer cancel()
	return c.SendText(opCtx, msg)
}

func (e *Engine) recvOne(ctx context.Context, c *player.Conn) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
	defer cancel()
	_, _, err := c.Recv(opCtx)
	return err
}

// relayLoop round-robins over the seats: one receive per seat under the frame
// timeout, then a broadcast of the payload as-received to every other seat,
// paced by the frame delay.
func (e *Engine) relayLoop(ctx context.Context) error {
	players := e.lobby.Players
	for {
		for _, c := range players {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			recvCtx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
			typ, data, err := c.Recv(recvCtx)
			timedOut := recvCtx.Err() == context.DeadlineExceeded
			cancel()
			if err != nil {
				if timedOut && ctx.Err() == nil {
					// Tell the stalled seat why it is being dropped, then end
					// the game for everyone.
					e.notifyFrameTimeout(c)
					return fmt.Errorf("seat %d: %w", c.Seat, errFrameTimeout)
				}
				return fmt.Errorf("seat %d receive: %w", c.Seat, err)
			}

			if err := sleepCtx(ctx, e.cfg.FrameDelay); err != nil {
				return err
			}

			if typ == websocket.MessageText {
				s := string(data)
				if s == MsgDisconnect || s == MsgResign {
					// Forward the control string so peers see the reason,
					// then tear down.
					e.broadcast(c, typ, data)
					e.log.Infof("seat %d ended the game with %q", c.Seat, s)
					return fmt.Errorf("seat %d sent %s: %w", c.Seat, s, errClientEnded)
				}
			}

			if err := e.broadcast(c, typ, data); err != nil {
				return err
			}
		}
	}
}

// broadcast relays one frame from its sender to every other seat.
func (e *Engine) broadcast(from *player.Conn, typ websocket.MessageType, data []byte) error {
	for _, peer := range e.lobby.Players {
		if peer == from {
			continue
		}
		sendCtx, cancel := context.WithTimeout(context.Background(), e.cfg.FrameTimeout)
		err := peer.Send(sendCtx, typ, data)
		cancel()
		if err != nil {
			return fmt.Errorf("seat %d send: %w", peer.Seat, err)
		}
	}
	return nil
}

// notifyFrameTimeout is a best-effort courtesy message; failure changes nothing.
func (e *Engine) notifyFrameTimeout(c *player.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.SendText(ctx, MsgFrameTimeout)
}

// timerLoop broadcasts one TIMER per second for the game's lifetime, then a
// final TIMEOUT. Its sentinel error stops the relay loop through the group.
func (e *Engine) timerLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seconds := int(e.cfg.GameLifetime / time.Second)
	for i := 0; i < seconds; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := e.broadcastText(MsgTimer); err != nil {
			return err
		}
	}

	if err := e.broadcastText(MsgTimeout); err != nil {
		return err
	}
	return errLifetimeReached
}

func (e *Engine) broadcastText(msg string) error {
	for _, c := range e.lobby.Players {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FrameTimeout)
		err := c.SendText(ctx, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("seat %d send %q: %w", c.Seat, msg, err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
