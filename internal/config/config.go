package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by STRATUM_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("STRATUM_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func ServerPort() int {
	return intEnv("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func RedisAddr() string {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return "localhost:6379"
	}
	return addr
}

func RedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}

func RedisDB() int {
	return intEnv("REDIS_DB", 0)
}

// DatabaseURL returns the Postgres URL for the knowledge backend.
// Empty means the Postgres backend is disabled.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// KnowledgeProvider returns the configured long-term knowledge backend.
// Valid values: http, postgres, mock. Defaults to "mock".
func KnowledgeProvider() string {
	p := os.Getenv("KNOWLEDGE_PROVIDER")
	if p == "" {
		return "mock"
	}
	return p
}

func KnowledgeBaseURL() string {
	return os.Getenv("KNOWLEDGE_BASE_URL")
}

func KnowledgeAPIKey() string {
	return os.Getenv("KNOWLEDGE_API_KEY")
}

// SummarizerProvider returns the configured summarizer.
// Valid values: openai, anthropic, gemini, cerebras, mock. Defaults to "openai".
func SummarizerProvider() string {
	p := os.Getenv("SUMMARIZER_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// SummarizerAPIKey returns the API key for the configured summarizer.
func SummarizerAPIKey() string {
	switch SummarizerProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingProvider returns the embedder used by the postgres knowledge
// backend. Valid values: openai, mock. Defaults to "mock".
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "mock"
	}
	return p
}

// EmbeddingAPIKey returns the API key for the configured embedder.
func EmbeddingAPIKey() string {
	if EmbeddingProvider() == "mock" {
		return ""
	}
	return OpenAIAPIKey()
}

// --- Engine tuning ---

// WorkingLogCapacity bounds the tier-0 stream length per tenant.
func WorkingLogCapacity() int {
	return intEnv("WORKING_LOG_CAPACITY", 2048)
}

// BatchThreshold is the unconsolidated item count that triggers
// consolidation.
func BatchThreshold() int {
	return intEnv("BATCH_THRESHOLD", 15)
}

// MaxBatchAge triggers consolidation when the oldest unconsolidated item
// exceeds this age, even below the size threshold.
func MaxBatchAge() time.Duration {
	return durationEnv("MAX_BATCH_AGE", 10*time.Minute)
}

// LockTTL bounds how long a crashed consolidator can hold the lock.
func LockTTL() time.Duration {
	return durationEnv("LOCK_TTL", 60*time.Second)
}

// ImportanceThreshold drops batch items below this score before
// summarization.
func ImportanceThreshold() float64 {
	return floatEnv("IMPORTANCE_THRESHOLD", 0.2)
}

// SessionCapacity bounds tier 1; overflow evicts the least important.
func SessionCapacity() int {
	return intEnv("SESSION_CAPACITY", 512)
}

// SessionTTL expires idle tier-1 sessions.
func SessionTTL() time.Duration {
	return durationEnv("SESSION_TTL", 30*24*time.Hour)
}

// PromoteHighThreshold promotes sessions at or above this importance.
func PromoteHighThreshold() float64 {
	return floatEnv("PROMOTE_HIGH_THRESHOLD", 0.75)
}

// PromoteLowThreshold forgets sessions below this importance once past
// MinRetention.
func PromoteLowThreshold() float64 {
	return floatEnv("PROMOTE_LOW_THRESHOLD", 0.15)
}

// ReinforcementThreshold promotes sessions accessed at least this often.
func ReinforcementThreshold() int {
	return intEnv("REINFORCEMENT_THRESHOLD", 5)
}

// MinRetention protects fresh sessions from forgetting.
func MinRetention() time.Duration {
	return durationEnv("MIN_RETENTION", 24*time.Hour)
}

func ConsolidationInterval() time.Duration {
	return durationEnv("CONSOLIDATION_INTERVAL", time.Minute)
}

func PromotionInterval() time.Duration {
	return durationEnv("PROMOTION_INTERVAL", 5*time.Minute)
}

// StrategyTimeout bounds each retrieval strategy independently.
func StrategyTimeout() time.Duration {
	return durationEnv("STRATEGY_TIMEOUT", 2*time.Second)
}

func LocalWeight() float64 {
	return floatEnv("RETRIEVAL_LOCAL_WEIGHT", 0.2)
}

func KeywordWeight() float64 {
	return floatEnv("RETRIEVAL_KEYWORD_WEIGHT", 0.2)
}

func SemanticWeight() float64 {
	return floatEnv("RETRIEVAL_SEMANTIC_WEIGHT", 0.4)
}

func GraphWeight() float64 {
	return floatEnv("RETRIEVAL_GRAPH_WEIGHT", 0.2)
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps := floatEnv("RATE_LIMIT_RPS", 100)
	if rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst := intEnv("RATE_LIMIT_BURST", 20)
	if burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
