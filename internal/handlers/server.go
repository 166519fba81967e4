// internal/handlers/server.go

// Package handlers wires the HTTP and websocket surface of the server: page
// issuance behind the captcha gate, the one-shot ticket admitter, the
// playercount stream and the serverinfo snapshot.
package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/plurabus/gameserver/internal/captcha"
	"github.com/plurabus/gameserver/internal/config"
	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/metrics"
	"github.com/plurabus/gameserver/internal/pages"
	"github.com/plurabus/gameserver/internal/player"
	"github.com/plurabus/gameserver/internal/registry"
	"github.com/plurabus/gameserver/internal/stats"
)

// Server bundles the shared state every handler needs. Each field guards its
// own concurrency; Server itself holds no lock.
type Server struct {
	Cfg      *config.Config
	Log      *logrus.Logger
	Pages    *pages.Store
	Verifier captcha.Verifier

	// Tickets maps ticket value -> remote host it was issued to.
	Tickets *registry.Registry[string]
	// LobbyKeys maps private room key -> game size (2 or 4). Shared with the
	// matchmakers.
	LobbyKeys *registry.Registry[int]

	Conns *player.Store

	// TwoPlayer and FourPlayer are the two matchmaker actors.
	TwoPlayer  *matchmaker.Matchmaker
	FourPlayer *matchmaker.Matchmaker

	Homepage    stats.Counter
	GamesPlayed *stats.Counter
}

// Snapshot assembles the serverinfo aggregate, reading each source under its
// own lock.
func (s *Server) Snapshot() stats.Snapshot {
	snap := stats.Snapshot{
		PlayersOnline:      s.Conns.Len(),
		OnHomepage:         s.Homepage.Value(),
		TokensActive:       s.Tickets.Len(),
		LobbyKeysActive:    s.LobbyKeys.Len(),
		SessionGamesPlayed: s.GamesPlayed.Value(),
	}
	metrics.PlayersOnline.Set(float64(snap.PlayersOnline))
	metrics.OnHomepage.Set(float64(snap.OnHomepage))
	metrics.TokensActive.Set(float64(snap.TokensActive))
	metrics.LobbyKeysActive.Set(float64(snap.LobbyKeysActive))
	return snap
}

// ServerInfoHandler serves GET /serverinfo.
func (s *Server) ServerInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		pages.WriteHeaders(w.Header(), pages.ProfileDefault)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
			s.Log.WithField("prompt", "Server").Warnf("failed to encode serverinfo: %v", err)
		}
	}
}

// writeStatus emits one of the fixed plain-text status pages with the default
// security headers.
func writeStatus(w http.ResponseWriter, code int, body string) {
	pages.WriteHeaders(w.Header(), pages.ProfileDefault)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// remoteHost strips the port from an addr like "10.0.0.1:51234". Used for
// optional ticket-to-address binding.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
