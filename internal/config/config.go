package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/playmatatu/matchcore/internal/models"
)

// Config holds every tunable named in the specification's external
// interfaces section, plus the ambient server/store settings needed to
// wire everything together.
type Config struct {
	// Environment
	Environment string

	// Server
	Port        string
	FrontendURL string

	// Redis (Shared Store)
	RedisURL               string
	NotificationChannelPat string
	StateEventChannelPat   string
	EnableStateEvents      bool

	// Postgres (match history sink)
	DatabaseURL string

	// Matchmaking tunables (§6)
	TickIntervalSeconds          int
	LoadingSessionTimeoutSeconds int
	DedicatedRequestTimeoutSecs  int
	AllocationTokenTTLSeconds    int
	MaxDedicatedServerRetries    int
	QueueKeyPrefix               string
	GameModes                    []models.GameMode

	// Session Gateway tunables
	HeartbeatIntervalSeconds int
	ClientTimeoutSeconds     int
	EnqueueRateLimitPerMin   int

	// Dedicated allocator
	AllocatorBaseURL string

	// Auth
	JWTSecret string

	// Ops API
	OpsTokenHash string
}

// Load reads configuration from the environment, falling back to
// development-friendly defaults. It mirrors the teacher's
// getEnv/getEnvInt pattern throughout.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NotificationChannelPat: getEnv("REDIS_NOTIFICATION_CHANNEL_PATTERN", "notifications:%s"),
		StateEventChannelPat:   getEnv("REDIS_STATE_EVENT_CHANNEL_PATTERN", "events:%s"),
		EnableStateEvents:      getEnvBool("REDIS_ENABLE_STATE_EVENTS", true),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/matchcore?sslmode=disable"),

		TickIntervalSeconds:          getEnvInt("TICK_INTERVAL_SECONDS", 2),
		LoadingSessionTimeoutSeconds: getEnvInt("LOADING_SESSION_TIMEOUT_SECONDS", 30),
		DedicatedRequestTimeoutSecs:  getEnvInt("DEDICATED_REQUEST_TIMEOUT_SECONDS", 5),
		AllocationTokenTTLSeconds:    getEnvInt("ALLOCATION_TOKEN_TTL_SECONDS", 10),
		MaxDedicatedServerRetries:    getEnvInt("MAX_DEDICATED_SERVER_RETRIES", 3),
		QueueKeyPrefix:               getEnv("QUEUE_KEY_PREFIX", "queue"),
		GameModes:                    parseGameModes(getEnv("GAME_MODES", "Normal:2")),

		HeartbeatIntervalSeconds: getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 15),
		ClientTimeoutSeconds:     getEnvInt("CLIENT_TIMEOUT_SECONDS", 45),
		EnqueueRateLimitPerMin:   getEnvInt("ENQUEUE_RATE_LIMIT_PER_MIN", 30),

		AllocatorBaseURL: getEnv("ALLOCATOR_BASE_URL", "http://localhost:9100"),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),

		OpsTokenHash: getEnv("OPS_TOKEN_HASH", ""),
	}
}

// ModeByID returns the configured game mode, and whether it exists.
func (c *Config) ModeByID(id string) (models.GameMode, bool) {
	for _, m := range c.GameModes {
		if m.ID == id {
			return m, true
		}
	}
	return models.GameMode{}, false
}

// parseGameModes decodes a comma-separated "id:required_players[:mmr]"
// list, e.g. "Normal:2,Squad:4:mmr". Malformed entries are skipped with
// no error — an empty or partial GAME_MODES list is a deployment
// mistake, not a crash.
func parseGameModes(raw string) []models.GameMode {
	var modes []models.GameMode
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 2 {
			continue
		}
		mode := models.GameMode{ID: parts[0], RequiredPlayers: n}
		if len(parts) >= 3 && parts[2] == "mmr" {
			mode.UseMMRMatching = true
		}
		modes = append(modes, mode)
	}
	return modes
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
