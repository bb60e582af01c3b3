package app

import "time"

type Config struct {
	Port string

	DatabaseURL string

	LavinMQURL      string
	FeedQueue       string
	FeedPollTimeout time.Duration

	IndexDir string

	EmbedderBackend    string // "local" or "openai"
	EmbeddingDimension int
	OpenAIBaseURL      string
	OpenAIModel        string
	OpenAIKeyEnv       string
	OpenAITimeout      time.Duration

	CacheEnabled bool
	RedisAddr    string
	CacheTTL     time.Duration

	AuthEnabled   bool
	JWTSecret     string
	JWTTTLMinutes int

	SnapshotEnabled bool
	SnapshotEvery   int
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
}
