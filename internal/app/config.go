package app

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the inference server's environment configuration.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Checkpoint to serve: a weights path or a run directory.
	Checkpoint string `envconfig:"CHECKPOINT" required:"true"`

	// Output root holding the run registry; empty disables /api/v1/runs.
	OutputRoot string `envconfig:"OUTPUT_ROOT"`

	Workers        int    `envconfig:"WORKERS" default:"4"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"33554432"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile        string `envconfig:"LOG_FILE"`
}

func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SEGLAB", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
