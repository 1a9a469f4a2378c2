package telemetry

import (
	"os"
	"strconv"
)

// Config holds the OTLP exporter configuration.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
}

// LoadConfig reads exporter configuration from environment variables.
func LoadConfig() Config {
	enabled, _ := strconv.ParseBool(os.Getenv("SEGLAB_OTEL_ENABLED"))
	insecure, _ := strconv.ParseBool(os.Getenv("SEGLAB_OTEL_INSECURE"))

	return Config{
		Endpoint: os.Getenv("SEGLAB_OTEL_ENDPOINT"),
		Enabled:  enabled,
		Insecure: insecure,
	}
}
