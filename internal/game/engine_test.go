// internal/game/engine_test.go
package game

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plurabus/gameserver/internal/config"
	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/player"
)

func testConfig() *config.Config {
	return &config.Config{
		GameLifetime:   time.Hour, // long enough to never fire unless a test wants it
		StartupTimeout: 5 * time.Second,
		FrameTimeout:   5 * time.Second,
		FrameDelay:     time.Millisecond,
	}
}

// testGame wires n real websocket pairs into a started lobby plus an engine.
type testGame struct {
	clients  []*websocket.Conn
	lobby    *matchmaker.Lobby
	engine   *Engine
	done     chan struct{}
	finished []*matchmaker.Lobby
	mu       sync.Mutex
}

func newTestGame(t *testing.T, n int, cfg *config.Config) *testGame {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tg := &testGame{done: make(chan struct{})}
	connCh := make(chan *player.Conn, n)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		connCh <- player.New(ws, r.RemoteAddr, matchmaker.PublicPairString)
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, _, err := websocket.Dial(ctx, wsURL, nil)
		cancel()
		require.NoError(t, err)
		t.Cleanup(func() { c.CloseNow() })
		tg.clients = append(tg.clients, c)
	}

	players := make([]*player.Conn, 0, n)
	for i := 0; i < n; i++ {
		select {
		case c := <-connCh:
			players = append(players, c)
		case <-time.After(5 * time.Second):
			t.Fatal("server side connections did not arrive")
		}
	}

	tg.lobby = &matchmaker.Lobby{
		ID:             uuid.New(),
		PairString:     matchmaker.PublicPairString,
		DesiredPlayers: n,
		Players:        players,
		Started:        true,
		CreatedAt:      time.Now(),
	}
	tg.engine = New(logger, cfg, tg.lobby, func(l *matchmaker.Lobby) {
		tg.mu.Lock()
		tg.finished = append(tg.finished, l)
		tg.mu.Unlock()
	}, nil)

	go func() {
		tg.engine.Run(context.Background())
		close(tg.done)
	}()
	return tg
}

func (tg *testGame) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-tg.done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not finish")
	}
}

func (tg *testGame) finishedLobbies() []*matchmaker.Lobby {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := make([]*matchmaker.Lobby, len(tg.finished))
	copy(out, tg.finished)
	return out
}

// clientHandshake performs the client side of the startup handshake and
// returns the 0-indexed seat.
func clientHandshake(ctx context.Context, ws *websocket.Conn) (int, error) {
	// Pair string echo.
	if _, _, err := ws.Read(ctx); err != nil {
		return -1, err
	}
	if err := ws.Write(ctx, websocket.MessageText, []byte("ready")); err != nil {
		return -1, err
	}
	// "P1".."P4"
	_, data, err := ws.Read(ctx)
	if err != nil {
		return -1, err
	}
	seat := int(data[1]-'0') - 1
	if err := ws.Write(ctx, websocket.MessageText, []byte("set")); err != nil {
		return -1, err
	}
	if seat == 0 {
		// "Go"
		if _, _, err := ws.Read(ctx); err != nil {
			return -1, err
		}
		if err := ws.Write(ctx, websocket.MessageText, []byte("start")); err != nil {
			return -1, err
		}
	}
	return seat, nil
}

// readSkippingTimer returns the next frame that is not a TIMER tick.
func readSkippingTimer(ctx context.Context, ws *websocket.Conn) (websocket.MessageType, []byte, error) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return typ, data, err
		}
		if typ == websocket.MessageText && string(data) == MsgTimer {
			continue
		}
		return typ, data, nil
	}
}

// TestRelayAndResign walks the full happy path: handshake, one relayed binary
// payload, then a RESIGN that is forwarded and tears the game down.
func TestRelayAndResign(t *testing.T) {
	tg := newTestGame(t, 2, testConfig())

	payload := []byte{0x01, 0x02, 0x03}
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	for _, ws := range tg.clients {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer cancel()

			seat, err := clientHandshake(ctx, ws)
			if err != nil {
				errs <- err
				return
			}
			if seat == 0 {
				if err := ws.Write(ctx, websocket.MessageBinary, payload); err != nil {
					errs <- err
					return
				}
				typ, data, err := readSkippingTimer(ctx, ws)
				if err != nil {
					errs <- err
					return
				}
				assert.Equal(t, websocket.MessageText, typ)
				assert.Equal(t, MsgResign, string(data))
			} else {
				typ, data, err := readSkippingTimer(ctx, ws)
				if err != nil {
					errs <- err
					return
				}
				assert.Equal(t, websocket.MessageBinary, typ)
				assert.Equal(t, payload, data, "relayed payload must be byte-identical")
				if err := ws.Write(ctx, websocket.MessageText, []byte(MsgResign)); err != nil {
					errs <- err
					return
				}
			}
		}(ws)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tg.waitDone(t)
	require.Len(t, tg.finishedLobbies(), 1)
	for _, c := range tg.lobby.Players {
		select {
		case <-c.Started():
		default:
			t.Fatal("gameStarted not signalled")
		}
		select {
		case <-c.Finished():
		default:
			t.Fatal("gameFinished not signalled")
		}
	}

	// Seats are a permutation of 0..n-1.
	seen := map[int]bool{}
	for _, c := range tg.lobby.Players {
		seen[c.Seat] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, seen)
}

// TestFrameTimeoutNotifiesStalledSeat covers the liveness watchdog: a seat
// that stops sending gets FRAME_TIMEOUT and the game ends for everyone.
func TestFrameTimeoutNotifiesStalledSeat(t *testing.T) {
	cfg := testConfig()
	cfg.FrameTimeout = 200 * time.Millisecond
	tg := newTestGame(t, 2, cfg)

	var wg sync.WaitGroup
	var gotFrameTimeout bool
	var mu sync.Mutex

	for _, ws := range tg.clients {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer cancel()

			seat, err := clientHandshake(ctx, ws)
			if err != nil {
				return
			}
			// Nobody sends a frame; the engine's first relay read is from
			// seat 0, which should receive the watchdog notice.
			if seat == 0 {
				_, data, err := readSkippingTimer(ctx, ws)
				if err == nil && string(data) == MsgFrameTimeout {
					mu.Lock()
					gotFrameTimeout = true
					mu.Unlock()
				}
			}
		}(ws)
	}

	wg.Wait()
	tg.waitDone(t)

	mu.Lock()
	assert.True(t, gotFrameTimeout, "stalled seat should be told FRAME_TIMEOUT")
	mu.Unlock()
	for _, c := range tg.lobby.Players {
		select {
		case <-c.Finished():
		default:
			t.Fatal("gameFinished not signalled after frame timeout")
		}
	}
}

// TestGameLifetimeBroadcastsTimeout covers the global clock: when the game
// lifetime elapses, every player sees TIMER ticks followed by TIMEOUT.
func TestGameLifetimeBroadcastsTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.GameLifetime = 2 * time.Second
	tg := newTestGame(t, 2, cfg)

	var wg sync.WaitGroup
	timeouts := make(chan string, 2)

	for _, ws := range tg.clients {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer cancel()

			if _, err := clientHandshake(ctx, ws); err != nil {
				return
			}
			timers := 0
			for {
				_, data, err := ws.Read(ctx)
				if err != nil {
					return
				}
				switch string(data) {
				case MsgTimer:
					timers++
				case MsgTimeout:
					if timers >= 1 {
						timeouts <- MsgTimeout
					}
					return
				}
			}
		}(ws)
	}

	wg.Wait()
	tg.waitDone(t)
	close(timeouts)

	count := 0
	for range timeouts {
		count++
	}
	assert.Equal(t, 2, count, "both players should see TIMEOUT after TIMER ticks")
}

// TestHandshakeTimeoutTearsDown checks that silent clients never reach the
// started state but still get their finished signal.
func TestHandshakeTimeoutTearsDown(t *testing.T) {
	cfg := testConfig()
	cfg.FrameTimeout = 150 * time.Millisecond
	tg := newTestGame(t, 2, cfg)

	// Clients read nothing and send nothing.
	tg.waitDone(t)

	for _, c := range tg.lobby.Players {
		select {
		case <-c.Started():
			t.Fatal("gameStarted must not fire on a failed handshake")
		default:
		}
		select {
		case <-c.Finished():
		default:
			t.Fatal("gameFinished must fire even on a failed handshake")
		}
	}
	require.Len(t, tg.finishedLobbies(), 1)
}
