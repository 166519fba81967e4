// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors mirroring the /serverinfo snapshot, exposed on /metrics.
var (
	PlayersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plurabus_players_online",
		Help: "Live game websocket connections.",
	})

	OnHomepage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plurabus_on_homepage",
		Help: "Open /playercount streams (homepage viewers).",
	})

	TokensActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plurabus_tokens_active",
		Help: "Unconsumed tickets in the registry.",
	})

	LobbyKeysActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plurabus_lobby_keys_active",
		Help: "Unexpired private lobby keys.",
	})

	GamesPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plurabus_games_played_total",
		Help: "Lobbies that reached the STARTED state.",
	})

	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plurabus_games_ended_total",
		Help: "Finished games by outcome.",
	}, []string{"outcome"})
)
