package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.sentra",
			LogLevel: "info",
		},
		Validator: ValidatorConfig{
			MaxInputLength: 10000,
			BlockOnThreat:  true,
			BlockThreshold: "medium",
			SanitizeInput:  true,
		},
		Sandbox: SandboxConfig{
			Level:                      "medium",
			ConfirmationTimeoutSeconds: 30,
		},
		Audit: AuditConfig{
			Dir:                  "~/.sentra/audit",
			BufferSize:           50,
			FlushIntervalSeconds: 5,
			MaxFileSizeBytes:     10 * 1024 * 1024,
			IndexEnabled:         true,
			IndexPath:            "~/.sentra/audit/index.db",
			WatchIntegrity:       true,
			RetentionDays:        90,
			RetentionMaxFiles:    50,
			ArchiveOnPrune:       true,
		},
		Keystore: KeystoreConfig{
			Dir:     "~/.sentra/keys",
			EnvFile: "~/.sentra/.env",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8765,
			Path:    "/ws",
		},
	}
}
