// Package config loads MITDS runtime configuration from the environment
// with an optional YAML source-profile overlay.
package config

import (
	"os"
	"strconv"
)

// Config holds server and pipeline configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	// BlobStoreURL selects raw-record archival: s3://bucket, gs://bucket
	// or file:///path. Empty disables archival.
	BlobStoreURL string

	// Source API credentials. Adapters whose credential is empty are
	// registered but refuse to run.
	OpenCorporatesToken string
	MetaAppID           string
	MetaAppSecret       string
	MetaAccessToken     string
	CanLIIKey           string
	PPSAKey             string

	EnableMetaAdsIngestion        bool
	EnableOpenCorporatesIngestion bool

	// ProfilesDir points at source-profile YAML files overlaying run
	// defaults per source. Empty disables the overlay.
	ProfilesDir string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:         envDefault("PORT", "8080"),
		LogLevel:     envDefault("LOG_LEVEL", "INFO"),
		DatabaseURL:  envDefault("DATABASE_URL", "postgres://mitds@localhost:5432/mitds?sslmode=disable"),
		RedisURL:     os.Getenv("REDIS_URL"),
		BlobStoreURL: os.Getenv("BLOB_STORE_URL"),

		OpenCorporatesToken: os.Getenv("OPENCORPORATES_API_TOKEN"),
		MetaAppID:           os.Getenv("META_APP_ID"),
		MetaAppSecret:       os.Getenv("META_APP_SECRET"),
		MetaAccessToken:     os.Getenv("META_ACCESS_TOKEN"),
		CanLIIKey:           os.Getenv("CANLII_API_KEY"),
		PPSAKey:             os.Getenv("PPSA_API_KEY"),

		EnableMetaAdsIngestion:        envBool("ENABLE_META_ADS_INGESTION", true),
		EnableOpenCorporatesIngestion: envBool("ENABLE_OPENCORPORATES_INGESTION", true),

		ProfilesDir: os.Getenv("SOURCE_PROFILES_DIR"),
	}
}

func envDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
