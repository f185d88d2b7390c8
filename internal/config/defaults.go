package config

import "time"

// DefaultThresholds returns the stock tiering thresholds.
func DefaultThresholds() ThresholdsConfig {
	return ThresholdsConfig{
		HotToCoolDays:               30,
		CoolToArchiveDays:           90,
		MaxArchiveAgeDays:           365,
		PromoteAccessCountThreshold: 10,
		PromoteRecencyDays:          7,
	}
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendMemory,
			S3: S3Config{
				Region: "us-east-1",
			},
			File: FileConfig{
				DataDir: "/var/lib/doc-tiering/data",
			},
			Hot:     TierLocation{Prefix: "hot-documents", StorageClass: "STANDARD"},
			Cool:    TierLocation{Prefix: "documents", StorageClass: "STANDARD_IA"},
			Archive: TierLocation{Prefix: "archive", StorageClass: "GLACIER_IR"},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				Burst:             20,
			},
		},
		Thresholds: DefaultThresholds(),
		Pass: PassConfig{
			Interval: Duration(5 * time.Minute),
			Workers:  4,
			Timeout:  Duration(10 * time.Minute),
		},
		Mover: MoverConfig{
			PollInterval:  Duration(time.Second),
			VerifyTimeout: Duration(5 * time.Minute),
			MaxPollErrors: 5,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   Duration(200 * time.Millisecond),
				MaxDelay:    Duration(5 * time.Second),
			},
		},
		NATS: NATSConfig{
			ConnectionName: "doc-tiering",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
		},
		Access: AccessConfig{
			Enabled:       false,
			SubjectPrefix: "docs.access",
			QueueGroup:    "doc-tiering",
		},
		Metadata: MetadataConfig{
			Path: "/var/lib/doc-tiering/meta.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
			NATSResponder: NATSResponderConfig{
				Enabled:       false,
				SubjectPrefix: "tiering",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
