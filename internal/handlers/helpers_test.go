// internal/handlers/helpers_test.go
package handlers

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/plurabus/gameserver/internal/captcha"
	"github.com/plurabus/gameserver/internal/config"
	"github.com/plurabus/gameserver/internal/game"
	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/pages"
	"github.com/plurabus/gameserver/internal/player"
	"github.com/plurabus/gameserver/internal/registry"
	"github.com/plurabus/gameserver/internal/stats"
)

// rejectVerifier fails every captcha check, for exercising the 401 path.
type rejectVerifier struct{}

func (rejectVerifier) Verify(ctx context.Context, token, expectedAction string) error {
	return errors.New("rejected")
}

// writeWebRoot lays out a minimal web tree with the placeholder templates.
func writeWebRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dyn"), 0o755))

	files := map[string]string{
		"index.html":       "<p>NUMPLAYERS_PLACEHOLDER</p>",
		"dyn/play.html":    "pstr=PSTR_PLACEHOLDER token=TOKEN_PLACEHOLDER players=PLAYERS_PLACEHOLDER mode=PMODE_PLACEHOLDER",
		"dyn/private.html": "key=KEY_PLACEHOLDER players=PLAYERS_PLACEHOLDER",
		"style.css":        "body{}",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return root
}

func testServerConfig(t *testing.T) *config.Config {
	return &config.Config{
		WebRoot:                 writeWebRoot(t),
		TestMode:                true,
		TokenLifetime:           time.Minute,
		LobbyKeyLifetime:        time.Minute,
		GameLifetime:            time.Hour,
		StartupTimeout:          5 * time.Second,
		FrameTimeout:            2 * time.Second,
		FrameDelay:              time.Millisecond,
		MatchmakerBuffer:        16,
		PlayercountRefresh:      50 * time.Millisecond,
		PlayercountMaxRefreshes: 100,
	}
}

// newTestServer assembles a Server with a live two-player matchmaker whose
// full lobbies run a real game engine.
func newTestServer(t *testing.T, verifier captcha.Verifier) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := testServerConfig(t)
	conns := player.NewStore()
	tickets := registry.New[string](cfg.TokenLifetime)
	lobbyKeys := registry.New[int](cfg.LobbyKeyLifetime)
	gamesPlayed := &stats.Counter{}

	var mm *matchmaker.Matchmaker
	start := func(l *matchmaker.Lobby) {
		game.New(logger, cfg, l, mm.Finished, nil).Run(context.Background())
	}
	mm = matchmaker.New(logger, 2, conns, lobbyKeys, gamesPlayed, cfg.MatchmakerBuffer, 0, start)
	go mm.Run()
	t.Cleanup(mm.End)

	return &Server{
		Cfg:         cfg,
		Log:         logger,
		Pages:       pages.NewStore(cfg.WebRoot),
		Verifier:    verifier,
		Tickets:     tickets,
		LobbyKeys:   lobbyKeys,
		Conns:       conns,
		TwoPlayer:   mm,
		GamesPlayed: gamesPlayed,
	}
}
