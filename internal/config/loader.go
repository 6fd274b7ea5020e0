package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally .env),
// then overlays a YAML file if one is found, then applies defaults.
// Nothing is required: with no Postgres DSN and no OpenAI key the engine
// runs standalone against MemoryStore and MockClient.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.Postgres.DSN = strings.TrimSpace(firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN")))
	cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	cfg.OpenAI.BaseURL = strings.TrimSpace(firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL")))
	cfg.Kafka.Brokers = strings.TrimSpace(firstNonEmpty(os.Getenv("KAFKA_BROKERS"), os.Getenv("KAFKA_BOOTSTRAP_SERVERS")))
	cfg.Kafka.Topic = strings.TrimSpace(os.Getenv("KAFKA_TRAJECTORY_TOPIC"))
	cfg.Qdrant.Addr = strings.TrimSpace(os.Getenv("QDRANT_ADDR"))
	cfg.Qdrant.Collection = strings.TrimSpace(os.Getenv("QDRANT_COLLECTION"))
	if v := strings.TrimSpace(os.Getenv("QDRANT_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.Dimensions = n
		}
	}
	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	if err := overlayYAML(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "pck_trajectories"
	}
	if cfg.Qdrant.Dimensions == 0 {
		cfg.Qdrant.Dimensions = 1536
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "pck.trajectories.completed"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// overlayYAML reads config.yaml or config.yml from the working directory, if
// present, and lets its values override anything the environment didn't
// already set. Absence of the file is not an error: every setting is
// optional.
func overlayYAML(cfg *Config) error {
	var data []byte
	var chosen string
	for _, p := range []string{"config.yaml", "config.yml"} {
		b, err := os.ReadFile(p)
		if err == nil {
			data, chosen = b, p
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", p, err)
		}
	}
	if len(data) == 0 {
		return nil
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", chosen, err)
	}
	mergeInto(cfg, overlay)
	return nil
}

// mergeInto copies every non-zero string/int field of overlay into cfg where
// cfg's own field (set from the environment) is still zero. The environment
// always wins over the file.
func mergeInto(cfg *Config, overlay Config) {
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = overlay.Postgres.DSN
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = overlay.OpenAI.APIKey
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = overlay.OpenAI.Model
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = overlay.OpenAI.BaseURL
	}
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = overlay.Kafka.Brokers
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = overlay.Kafka.Topic
	}
	if cfg.Qdrant.Addr == "" {
		cfg.Qdrant.Addr = overlay.Qdrant.Addr
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = overlay.Qdrant.Collection
	}
	if cfg.Qdrant.Dimensions == 0 {
		cfg.Qdrant.Dimensions = overlay.Qdrant.Dimensions
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = overlay.Redis.Addr
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = overlay.Redis.Password
	}
	if cfg.Redis.DB == 0 {
		cfg.Redis.DB = overlay.Redis.DB
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = overlay.LogLevel
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
