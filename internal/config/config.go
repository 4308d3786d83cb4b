package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMO_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMO_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingModel returns the embedding model name. The schema's vector
// columns are sized for the default; a different model must keep the same
// dimensionality or the columns need migrating first.
func EmbeddingModel() string {
	m := os.Getenv("EMBEDDING_MODEL")
	if m == "" {
		return "text-embedding-3-small"
	}
	return m
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// FuzzyThreshold returns the minimum trigram similarity for fuzzy entity
// matches. Defaults to 0.35.
func FuzzyThreshold() float32 {
	v, err := strconv.ParseFloat(os.Getenv("FUZZY_THRESHOLD"), 32)
	if err != nil || v <= 0 || v > 1 {
		return 0.35
	}
	return float32(v)
}

// scoreWeight reads one retrieval weight, falling back to def when unset
// or unparsable. The weight set is validated as a whole at startup.
func scoreWeight(env string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(env), 64)
	if err != nil || v < 0 || v > 1 {
		return def
	}
	return v
}

func ScoreWeightSemantic() float64      { return scoreWeight("SCORE_WEIGHT_SEMANTIC", 0.35) }
func ScoreWeightEntityOverlap() float64 { return scoreWeight("SCORE_WEIGHT_ENTITY_OVERLAP", 0.25) }
func ScoreWeightTemporal() float64      { return scoreWeight("SCORE_WEIGHT_TEMPORAL", 0.15) }
func ScoreWeightImportance() float64    { return scoreWeight("SCORE_WEIGHT_IMPORTANCE", 0.15) }
func ScoreWeightReinforcement() float64 { return scoreWeight("SCORE_WEIGHT_REINFORCEMENT", 0.10) }

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}
