// Package config loads the tiled service configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IvanBrykalov/tilecache/source"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Worker    Worker    `envPrefix:"WORKER_"`
		Loop      Loop      `envPrefix:"LOOP_"`
		Fetch     Fetch     `envPrefix:"FETCH_"`

		// SourcesFile points to a JSON array of source options loaded at startup.
		SourcesFile string `env:"SOURCES_FILE"`
	}

	HTTP struct {
		Server Server `envPrefix:"SERVER_"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8080"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"tiled"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}

	Redis struct {
		Enabled  bool          `env:"ENABLED" envDefault:"false"`
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
		Prefix   string        `env:"PREFIX" envDefault:"tiles:"`
	}

	Worker struct {
		Count     int `env:"COUNT" envDefault:"4"`
		QueueSize int `env:"QUEUE_SIZE" envDefault:"64"`
	}

	Loop struct {
		Frame     time.Duration `env:"FRAME" envDefault:"16ms"`
		QueueSize int           `env:"QUEUE_SIZE" envDefault:"256"`
	}

	Fetch struct {
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
		UserAgent string        `env:"USER_AGENT" envDefault:"tilecache/1.0"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Sources reads the source list named by SourcesFile. An empty SourcesFile
// yields no sources.
func (c *Config) Sources() ([]source.Options, error) {
	if c.SourcesFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("config: read sources: %w", err)
	}
	var opts []source.Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("config: parse sources %s: %w", c.SourcesFile, err)
	}
	return opts, nil
}
