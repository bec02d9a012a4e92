// Package telemetry wires OpenTelemetry tracing and metrics for knowledged.
//
// Failures to reach a collector never stop the daemon; the instance
// degrades to no-op providers and reports it through Health.
package telemetry

import (
	"fmt"
	"time"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // grpc | http/protobuf
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	SampleRate     float64
	MetricsEnabled bool
	ExportInterval time.Duration
	ShutdownWait   time.Duration
}

// NewDefaultConfig returns defaults. Telemetry is off until a collector
// endpoint is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		Insecure:       true,
		ServiceName:    "knowledged",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
		MetricsEnabled: true,
		ExportInterval: 15 * time.Second,
		ShutdownWait:   5 * time.Second,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.MetricsEnabled && c.ExportInterval <= 0 {
		return fmt.Errorf("export interval must be positive")
	}
	return nil
}
