// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/plurabus/gameserver/internal/cache"
	"github.com/plurabus/gameserver/internal/captcha"
	"github.com/plurabus/gameserver/internal/config"
	"github.com/plurabus/gameserver/internal/game"
	"github.com/plurabus/gameserver/internal/handlers"
	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/middleware"
	"github.com/plurabus/gameserver/internal/pages"
	"github.com/plurabus/gameserver/internal/player"
	"github.com/plurabus/gameserver/internal/registry"
	"github.com/plurabus/gameserver/internal/stats"
)

func main() {
	testMode := flag.Bool("test", false, "disable captcha verification and serve static files under /")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()
	cfg.TestMode = *testMode

	var verifier captcha.Verifier
	if cfg.TestMode {
		logger.Warn("test mode: captcha verification disabled")
		verifier = captcha.Disabled{}
	} else {
		v, err := captcha.NewEnterprise(context.Background(), cfg.RecaptchaProjectID, cfg.RecaptchaSiteKey)
		if err != nil {
			logger.Fatalf("captcha gateway: %v", err)
		}
		defer v.Close()
		verifier = v
	}

	var recorder game.Recorder
	if cfg.RedisAddr != "" {
		h, err := cache.NewHistorian(cfg.RedisAddr, os.Getenv("HISTORIAN_QUEUE_NAME"))
		if err != nil {
			logger.Warnf("match history disabled: %v", err)
		} else {
			defer h.Close()
			recorder = h
		}
	}

	conns := player.NewStore()
	tickets := registry.New[string](cfg.TokenLifetime)
	lobbyKeys := registry.New[int](cfg.LobbyKeyLifetime)
	gamesPlayed := &stats.Counter{}

	// The engine reports back to its matchmaker on exit, so the dispatch
	// closures capture the matchmaker variables declared just below.
	var twoPlayer, fourPlayer *matchmaker.Matchmaker
	startTwo := func(l *matchmaker.Lobby) {
		game.New(logger, cfg, l, twoPlayer.Finished, recorder).Run(context.Background())
	}
	startFour := func(l *matchmaker.Lobby) {
		game.New(logger, cfg, l, fourPlayer.Finished, recorder).Run(context.Background())
	}
	twoPlayer = matchmaker.New(logger, 2, conns, lobbyKeys, gamesPlayed, cfg.MatchmakerBuffer, cfg.MatchmakerSleep, startTwo)
	fourPlayer = matchmaker.New(logger, 4, conns, lobbyKeys, gamesPlayed, cfg.MatchmakerBuffer, cfg.MatchmakerSleep, startFour)
	go twoPlayer.Run()
	go fourPlayer.Run()
	defer twoPlayer.End()
	defer fourPlayer.End()

	srv := &handlers.Server{
		Cfg:         cfg,
		Log:         logger,
		Pages:       pages.NewStore(cfg.WebRoot),
		Verifier:    verifier,
		Tickets:     tickets,
		LobbyKeys:   lobbyKeys,
		Conns:       conns,
		TwoPlayer:   twoPlayer,
		FourPlayer:  fourPlayer,
		GamesPlayed: gamesPlayed,
	}

	logged := middleware.LogMiddleware(logger)
	mux := http.NewServeMux()
	mux.Handle("/action", logged(srv.ActionHandler()))
	mux.Handle("/g/", logged(srv.LobbyKeyHandler()))
	mux.Handle("/serverinfo", logged(srv.ServerInfoHandler()))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/game", srv.GameWSHandler(twoPlayer))
	mux.Handle("/fourplayergame", srv.GameWSHandler(fourPlayer))
	mux.Handle("/playercount", srv.PlayercountWSHandler())
	if cfg.TestMode {
		mux.Handle("/", logged(srv.StaticHandler()))
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		logger.WithField("prompt", "Server").Infof("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithField("prompt", "Server").Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("forced shutdown: %v", err)
	}
}
