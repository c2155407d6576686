package config

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for mnemo. Immutable after start; clones
// are cheap.
type Config struct {
	// Storage
	DataDir       string
	StoreType     string // "sqlite" or "qdrant"
	HotCacheGB    int
	WarmStorageGB int
	ColdEnabled   bool

	// Qdrant (when StoreType is "qdrant")
	QdrantHost           string
	QdrantPort           int
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantCollectionName string

	// Proxy
	ListenAddr         string
	UpstreamURL        string
	AllowedHosts       []string
	TimeoutSecs        int
	MaxInjectionTokens int

	// Router / retrieval
	MaxMemories         int
	RelevanceThreshold  float64
	DeterministicMode   bool
	DecimalPlaces       int
	TopicOverlapWeight  float64
	CandidateMultiplier int
	SimilarityWeight    float64
	RerankWeight        float64

	// Weight model
	AccessMultiplier    float64
	DecayRate           float64
	EmotionalMultiplier float64

	// Tiers
	AccessPromoteThreshold int32
	MaxMemoriesPerTier     int

	// Compaction
	SummaryAgeDays        float64
	KeywordsAgeDays       float64
	MinWeightProtected    float64
	SummaryMaxSentences   int
	KeywordsMaxCount      int
	KeywordsMinWordLength int

	// Eviction
	WarningThreshold    float64
	EvictionThreshold   float64
	AggressiveThreshold float64
	RecentAccessHours   float64

	// Background workers; 0 disables a worker.
	CompactionInterval time.Duration
	EvictionInterval   time.Duration

	// Embedding
	EmbedType      string // "local" or "openai"
	EmbedModel     string
	EmbedDimension int
	EmbedBatchSize int

	// OpenAI embedder
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Curator
	CuratorType        string // "disabled" or "remote"
	CuratorAPIURL      string
	CuratorAPIKeyEnv   string
	CuratorModel       string
	CuratorTimeoutSecs int

	// Conversation buffer
	BufferMaxTurns  int
	BufferMaxTokens int

	// Cache
	CacheType string // "noop" or "redis"
	RedisURL  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       defaultDataDir(),
		StoreType:     "sqlite",
		HotCacheGB:    10,
		WarmStorageGB: 50,
		ColdEnabled:   true,

		QdrantHost:           "localhost",
		QdrantPort:           6334,
		QdrantCollectionName: "mnemo",

		ListenAddr:         "127.0.0.1:9999",
		TimeoutSecs:        300,
		MaxInjectionTokens: 2000,

		MaxMemories:         10,
		RelevanceThreshold:  0.7,
		DecimalPlaces:       2,
		TopicOverlapWeight:  0.1,
		CandidateMultiplier: 3,
		SimilarityWeight:    0.7,
		RerankWeight:        0.3,

		AccessMultiplier:    0.1,
		DecayRate:           0.1,
		EmotionalMultiplier: 0.3,

		AccessPromoteThreshold: 5,
		MaxMemoriesPerTier:     10000,

		SummaryAgeDays:        30,
		KeywordsAgeDays:       90,
		MinWeightProtected:    0.7,
		SummaryMaxSentences:   3,
		KeywordsMaxCount:      20,
		KeywordsMinWordLength: 4,

		WarningThreshold:    0.70,
		EvictionThreshold:   0.80,
		AggressiveThreshold: 0.95,
		RecentAccessHours:   24,

		CompactionInterval: time.Hour,
		EvictionInterval:   time.Hour,

		EmbedType:      "local",
		EmbedModel:     "all-minilm-l6-v2",
		EmbedDimension: 384,
		EmbedBatchSize: 32,

		OpenAIBaseURL: "https://api.openai.com/v1",

		CuratorType:        "disabled",
		CuratorAPIKeyEnv:   "MNEMO_CURATOR_API_KEY",
		CuratorTimeoutSecs: 60,

		BufferMaxTurns:  20,
		BufferMaxTokens: 8000,

		CacheType: "noop",
	}
}

// StorePath returns the directory the embedded store lives in.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "memories")
}

// ModelsDir returns the directory downloaded model artifacts live in.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.DataDir, "models")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mnemo"
	}
	return filepath.Join(home, ".mnemo")
}
