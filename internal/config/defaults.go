package config

import (
	"time"

	"wavectl/internal/recorder"
	"wavectl/internal/telemetry"
)

// GetDefaultConfig returns the built-in configuration: no components, the
// production retry policy and a sqlite run store.
func GetDefaultConfig() WavectlConfig {
	return WavectlConfig{
		Settings: Settings{
			MaxConcurrency:    8,
			ControlPlaneQPS:   10,
			ControlPlaneBurst: 20,
			Apply: ApplySettings{
				Attempts:       3,
				InitialBackoff: 5 * time.Second,
				MaxBackoff:     60 * time.Second,
				BackoffFactor:  2,
			},
			Verify: VerifySettings{
				Deadline:          300 * time.Second,
				Cycles:            5,
				UnhealthyBackoff:  5 * time.Second,
				TimeoutBackoff:    15 * time.Second,
				MaxTimeoutBackoff: 60 * time.Second,
			},
			Store:     recorder.Config{Type: recorder.TypeSQLite},
			Server:    ServerSettings{Listen: ":8080"},
			Telemetry: telemetry.Config{Exporter: telemetry.ExporterNone},
		},
	}
}
