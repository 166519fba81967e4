// internal/handlers/playercount_ws.go
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/plurabus/gameserver/internal/metrics"
)

// PlayercountWSHandler streams "Players Online: N" to homepage viewers. The
// stream is push-only; client frames are discarded. The viewer counter is
// decremented in a defer so no cancellation path can skip it.
func (s *Server) PlayercountWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.Log.WithField("prompt", r.RemoteAddr)

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Warnf("playercount accept error: %v", err)
			return
		}

		metrics.OnHomepage.Set(float64(s.Homepage.Inc()))
		defer func() {
			metrics.OnHomepage.Set(float64(s.Homepage.Dec()))
		}()

		// CloseRead discards client frames and cancels the context when the
		// peer goes away.
		ctx := ws.CloseRead(r.Context())

		ticker := time.NewTicker(s.Cfg.PlayercountRefresh)
		defer ticker.Stop()

		for i := 0; i < s.Cfg.PlayercountMaxRefreshes; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			msg := fmt.Sprintf("Players Online: %d", s.Conns.Len())
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Write(writeCtx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				return
			}
		}
		ws.Close(websocket.StatusNormalClosure, "")
	}
}
