// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Close codes and reasons used on the game websocket. Every admission failure
// closes with the same generic pair so a probing client cannot tell which
// check rejected it.
const (
	// badTicketStatus is 1011 per the wire contract for token failures.
	badTicketStatus = websocket.StatusInternalError
	badTicketReason = "invalid token"
)
