// Package config loads pckengine's runtime configuration: the handful of
// settings the engine itself needs (storage DSN, optional LLM and
// supplemental-index backends) — not the full application surface a
// front-end or CLI would configure.
package config

// PostgresConfig configures the primary Store backend. DSN empty means
// "use MemoryStore" — the engine runs standalone with no database.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// OpenAIConfig configures the one concrete llmclient.Client implementation.
// APIKey empty means "use MockClient" — the engine runs with no LLM.
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL,omitempty"`
}

// KafkaConfig configures the optional trajectory-completion publisher.
// Brokers empty disables it.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// QdrantConfig configures the optional similar-trajectory index. Addr
// empty disables it.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

// RedisConfig configures the optional RedisNameLock that serialises
// FindOrCreateEntity across processes. Addr empty selects the in-process
// LocalNameLock instead. Only Addr is read by cmd/pckd.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// Config is the engine's complete runtime configuration.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Redis    RedisConfig    `yaml:"redis"`
	LogLevel string         `yaml:"logLevel"`
}
