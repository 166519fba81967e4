// internal/stats/stats.go
package stats

import "sync"

// Counter is a mutex-guarded integer. Each shared counter in the server gets
// its own instance so no two counters ever share a lock.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Inc increments the counter and returns the new value.
func (c *Counter) Inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Dec decrements the counter and returns the new value.
func (c *Counter) Dec() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n--
	return c.n
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Snapshot is the read-only aggregate served by GET /serverinfo. Each field is
// read from its own source under that source's lock; the snapshot itself is
// not transactional.
type Snapshot struct {
	PlayersOnline      int `json:"players_online"`
	OnHomepage         int `json:"on_homepage"`
	TokensActive       int `json:"tokens_active"`
	LobbyKeysActive    int `json:"lobby_keys_active"`
	SessionGamesPlayed int `json:"session_games_played"`
}
