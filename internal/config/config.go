package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration, read from the environment.
type Config struct {
	ServerPort  int    `envconfig:"SERVER_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	SiweDomain      string `envconfig:"SIWE_DOMAIN" default:"localhost"`
	ChainID         int    `envconfig:"CHAIN_ID" default:"84532"`
	NonceTTLSeconds int    `envconfig:"NONCE_TTL_SECONDS" default:"600"`

	// RPCURL is optional; without it on-chain escrow checks are skipped.
	RPCURL string `envconfig:"RPC_URL"`

	AWSBucketName      string `envconfig:"AWS_BUCKET_NAME" required:"true"`
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// Load reads the configuration from environment variables.
func Load(cfg *Config) error {
	return envconfig.Process("", cfg)
}
