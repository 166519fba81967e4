// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/metrics"
	"github.com/plurabus/gameserver/internal/player"
	"github.com/plurabus/gameserver/internal/registry"
)

// maxPairStringLen bounds the matching key a client may request.
const maxPairStringLen = 100

// GameWSHandler admits a game websocket and hands it to the given matchmaker.
// /game uses the two-player matchmaker, /fourplayergame the four-player one.
//
// Admission: the one-shot ticket comes from the ticket cookie, or from the
// first text frame for clients that lost the cookie (some embedded browsers
// strip SameSite cookies on websocket upgrades). All failures close with the
// same generic code and reason.
func (s *Server) GameWSHandler(mm *matchmaker.Matchmaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.Log.WithField("prompt", r.RemoteAddr)

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // TLS termination and origin policy live on the reverse proxy
		})
		if err != nil {
			log.Warnf("websocket accept error: %v", err)
			return
		}
		defer ws.Close(websocket.StatusInternalError, "handler exit")

		ticket, ok := s.readTicket(r, ws)
		if !ok {
			ws.Close(badTicketStatus, badTicketReason)
			return
		}
		issuedTo, ok := s.Tickets.TakeIfPresent(ticket)
		if !ok {
			log.Info("rejected websocket: unknown or expired ticket")
			ws.Close(badTicketStatus, badTicketReason)
			return
		}
		if s.Cfg.TicketBindAddr && issuedTo != remoteHost(r.RemoteAddr) {
			log.Info("rejected websocket: ticket issued to a different host")
			ws.Close(badTicketStatus, badTicketReason)
			return
		}

		pairString, ok := s.readPairString(r.Context(), ws)
		if !ok {
			ws.Close(badTicketStatus, badTicketReason)
			return
		}

		conn := player.New(ws, remoteHost(r.RemoteAddr), pairString)
		s.Conns.Add(conn)
		metrics.PlayersOnline.Set(float64(s.Conns.Len()))
		log.Infof("connection %s admitted, pair string %q", conn.ID, pairString)

		// Cleanup must run no matter how the handler unwinds: pop the live
		// connection, then tell the matchmaker, which treats unknown ids as
		// a no-op.
		defer func() {
			s.Conns.Remove(conn.ID)
			metrics.PlayersOnline.Set(float64(s.Conns.Len()))
			mm.Remove(conn.ID)
			log.Infof("connection %s closed", conn.ID)
		}()

		// The watch owns the socket reads while the connection waits in the
		// matchmaker, so a peer that drops is noticed immediately. The engine
		// claims readership at dispatch.
		watch := conn.WatchWhileQueued()
		mm.Add(conn.ID)
		s.awaitGame(r.Context(), log, conn, ws, watch)
	}
}

// readTicket extracts the candidate ticket from the cookie or the first text
// frame and validates its shape.
func (s *Server) readTicket(r *http.Request, ws *websocket.Conn) (string, bool) {
	ticket := ""
	if c, err := r.Cookie(ticketCookie); err == nil {
		ticket = c.Value
	}
	if ticket == "" {
		ctx, cancel := context.WithTimeout(r.Context(), s.Cfg.FrameTimeout)
		defer cancel()
		typ, data, err := ws.Read(ctx)
		if err != nil || typ != websocket.MessageText {
			return "", false
		}
		ticket = string(data)
	}
	if len(ticket) != registry.TicketLength {
		return "", false
	}
	return ticket, true
}

// readPairString reads the matching key frame.
func (s *Server) readPairString(ctx context.Context, ws *websocket.Conn) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.Cfg.FrameTimeout)
	defer cancel()
	typ, data, err := ws.Read(ctx)
	if err != nil || typ != websocket.MessageText {
		return "", false
	}
	if len(data) == 0 || len(data) > maxPairStringLen {
		return "", false
	}
	return string(data), true
}

// awaitGame blocks while the matchmaker and the game engine own the
// connection. The handler goroutine must not read from the socket here; the
// queued-state watch reads until the engine claims the connection, and from
// then on the engine is the sole reader.
func (s *Server) awaitGame(ctx context.Context, log *logrus.Entry, conn *player.Conn, ws *websocket.Conn, watch <-chan error) {
	startup := time.NewTimer(s.Cfg.StartupTimeout)
	defer startup.Stop()

	// Queued phase: ends when an engine claims the socket, or when the watch
	// read fails because the peer went away.
	select {
	case <-conn.Claimed():
	case err := <-watch:
		select {
		case <-conn.Claimed():
			// The claim cancelled the watch read; not a peer failure.
		default:
			log.Infof("connection %s dropped while queued: %v", conn.ID, err)
			return
		}
	case <-conn.Finished():
		return
	case <-startup.C:
		log.Infof("connection %s timed out waiting for a game", conn.ID)
		return
	case <-ctx.Done():
		return
	}

	// Claimed: the handshake is running.
	select {
	case <-conn.Started():
	case <-conn.Finished():
		// Lobby died during the handshake.
		return
	case <-startup.C:
		log.Infof("connection %s timed out waiting for a game", conn.ID)
		return
	case <-ctx.Done():
		return
	}

	// Started. The game lifetime plus slack bounds this wait; the engine
	// always signals finished on teardown.
	lifetime := time.NewTimer(s.Cfg.GameLifetime + time.Minute)
	defer lifetime.Stop()
	select {
	case <-conn.Finished():
	case <-lifetime.C:
		log.Warnf("connection %s never got a finish signal", conn.ID)
	case <-ctx.Done():
	}
	ws.Close(websocket.StatusNormalClosure, "")
}
