package config

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port        string
	BaseURL     string
	CORSOrigins string
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

// CryptoConfig holds the process-wide encryption key.
type CryptoConfig struct {
	// EncryptionKeyHex is 64 hex characters (32 bytes). Absence is fatal:
	// both binaries share this key, it is the AEAD interop contract.
	EncryptionKeyHex string
}

func loadCryptoConfig() CryptoConfig {
	return CryptoConfig{
		EncryptionKeyHex: mustEnv("ENCRYPTION_KEY"),
	}
}
