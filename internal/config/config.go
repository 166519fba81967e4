// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects every tunable the server reads at startup. All values come
// from the environment (a .env file is honored via godotenv autoload in main)
// and fall back to the defaults the production deployment runs with.
type Config struct {
	// Addr is the listen address for the HTTP server, e.g. ":8080".
	Addr string

	// WebRoot is the directory holding page templates and static assets.
	WebRoot string

	// TestMode disables captcha verification and enables static file serving
	// under "/". Set by the --test CLI flag, not by the environment.
	TestMode bool

	// RecaptchaProjectID and RecaptchaSiteKey identify the reCAPTCHA
	// Enterprise assessment target.
	RecaptchaProjectID string
	RecaptchaSiteKey   string

	// TokenLifetime bounds how long an issued ticket may sit unconsumed.
	TokenLifetime time.Duration

	// LobbyKeyLifetime bounds how long a private lobby key stays joinable.
	LobbyKeyLifetime time.Duration

	// GameLifetime is the total wall-clock budget of a started game.
	GameLifetime time.Duration

	// StartupTimeout bounds the span from websocket admission to game start,
	// including the whole handshake.
	StartupTimeout time.Duration

	// FrameTimeout bounds every individual websocket send or receive once a
	// connection is inside a lobby.
	FrameTimeout time.Duration

	// FrameDelay paces the relay loop between consecutive frames.
	FrameDelay time.Duration

	// TicketBindAddr, when true, rejects tickets presented from a different
	// remote host than the one they were issued to.
	TicketBindAddr bool

	// MatchmakerBuffer is the command channel capacity of each matchmaker.
	MatchmakerBuffer int

	// MatchmakerSleep is an optional per-cycle yield of the matchmaker
	// service loop. Zero disables it.
	MatchmakerSleep time.Duration

	// PlayercountRefresh and PlayercountMaxRefreshes shape the
	// /playercount push stream.
	PlayercountRefresh      time.Duration
	PlayercountMaxRefreshes int

	// RedisAddr enables match-record publishing when non-empty.
	RedisAddr string
}

// Load builds a Config from the environment.
func Load() *Config {
	return &Config{
		Addr:                    ":" + getEnv("PORT", "8080"),
		WebRoot:                 getEnv("WEB_ROOT", "web"),
		RecaptchaProjectID:      getEnv("RECAPTCHA_PROJECT_ID", ""),
		RecaptchaSiteKey:        getEnv("RECAPTCHA_SITE_KEY", ""),
		TokenLifetime:           getEnvDuration("TOKEN_LIFETIME", 15*time.Second),
		LobbyKeyLifetime:        getEnvDuration("LOBBY_KEY_LIFETIME", 180*time.Second),
		GameLifetime:            getEnvDuration("GAME_LIFETIME", 1203*time.Second),
		StartupTimeout:          getEnvDuration("STARTUP_TIMEOUT", 5*time.Minute),
		FrameTimeout:            getEnvDuration("FRAME_TIMEOUT", 30*time.Second),
		FrameDelay:              getEnvDuration("FRAME_DELAY", 10*time.Millisecond),
		TicketBindAddr:          getEnvBool("TICKET_BIND_ADDR", false),
		MatchmakerBuffer:        getEnvInt("MATCHMAKER_BUFFER_SIZE", 64),
		MatchmakerSleep:         getEnvDuration("MATCHMAKER_SERVICE_SLEEPTIME", 50*time.Millisecond),
		PlayercountRefresh:      getEnvDuration("NUMPLAYERS_REFRESH_TIME", 2*time.Second),
		PlayercountMaxRefreshes: getEnvInt("MAX_NUMPLAYERS_REFRESHES", 1800),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvBool parses an environment variable as a boolean, else a default value.
func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses an environment variable with time.ParseDuration,
// accepting a bare integer as seconds for compatibility with the old deploy
// scripts.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
