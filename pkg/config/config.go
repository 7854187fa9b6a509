package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Completion CompletionConfig `mapstructure:"completion"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	FrontendURL string `mapstructure:"frontend_url"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DSN         string `mapstructure:"dsn"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type CompletionConfig struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	FallbackModel string        `mapstructure:"fallback_model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

type MemoryConfig struct {
	Backend     string       `mapstructure:"backend"`
	Collection  string       `mapstructure:"collection"`
	PersistPath string       `mapstructure:"persist_path"`
	Qdrant      QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	HistoryLimit     int  `mapstructure:"history_limit"`
	RecallLimit      int  `mapstructure:"recall_limit"`
	SerializePerChat bool `mapstructure:"serialize_per_chat"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path if it exists, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("completion.provider", "groq")
	v.SetDefault("completion.model", "llama-3.1-8b-instant")
	v.SetDefault("completion.max_tokens", 512)
	v.SetDefault("completion.temperature", 0.7)
	v.SetDefault("completion.timeout", "60s")
	v.SetDefault("embedding.provider", "placeholder")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("memory.backend", "chromem")
	v.SetDefault("memory.collection", "alpha")
	v.SetDefault("memory.qdrant.timeout", "15s")
	v.SetDefault("pipeline.history_limit", 25)
	v.SetDefault("pipeline.recall_limit", 3)
	v.SetDefault("pipeline.serialize_per_chat", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"database.password",
		"database.dbname",
		"database.dsn",
		"completion.api_key",
		"completion.base_url",
		"completion.fallback_model",
		"embedding.api_key",
		"embedding.base_url",
		"embedding.model",
		"memory.persist_path",
		"memory.qdrant.url",
		"memory.qdrant.api_key",
		"auth.jwt_secret",
		"telegram.token",
	} {
		v.SetDefault(key, "")
	}

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if !errors.As(err, &pathErr) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config.Database.UseInMemory {
		config.Database.Driver = "memory"
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if port := v.GetInt("PORT"); port != 0 {
		config.Server.Port = port
	}
	if frontend := v.GetString("FRONTEND_URL"); frontend != "" {
		config.Server.FrontendURL = frontend
	}
	if secret := v.GetString("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if qdrantURL := v.GetString("QDRANT_URL"); qdrantURL != "" {
		config.Memory.Qdrant.URL = qdrantURL
	}
	if qdrantKey := v.GetString("QDRANT_API_KEY"); qdrantKey != "" {
		config.Memory.Qdrant.APIKey = qdrantKey
	}

	if config.Completion.APIKey == "" {
		config.Completion.APIKey = providerKey(v, config.Completion.Provider)
	}
	if config.Embedding.APIKey == "" && config.Embedding.Provider == "openai" {
		config.Embedding.APIKey = v.GetString("OPENAI_API_KEY")
	}

	return &config, nil
}

func providerKey(v *viper.Viper, provider string) string {
	switch strings.ToLower(provider) {
	case "", "groq":
		return v.GetString("GROQ_API_KEY")
	case "openai":
		return v.GetString("OPENAI_API_KEY")
	case "anthropic":
		return v.GetString("ANTHROPIC_API_KEY")
	}
	return ""
}
