package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-verify/internal/pkg/validate"
)

// Config holds all runtime configuration loaded from environment variables.
// It is built once in main and passed explicitly into every component.
type Config struct {
	AppPort       string
	AppEnv        string
	PublicBaseURL string // where /callback is reachable; used as the OAuth redirect URI
	ResultBaseURL string // prefix for the result pages the callback redirects to

	IPSalt string `validate:"required"`

	DiscordClientID     string `validate:"required"`
	DiscordClientSecret string `validate:"required"`
	DiscordBotToken     string `validate:"required"`
	DiscordAPIBase      string `validate:"required,url"`
	GuildID             string `validate:"required"`
	MutedRoleID         string
	AltRoleID           string
	MemberRoleIDs       []string
	LogWebhookURL       string `validate:"omitempty,url"`

	IPAPIBaseURL       string `validate:"required,url"`
	IPAPITimeout       time.Duration
	IPAPIRatePerMinute int
	RedisURL           string
	ReputationCacheTTL time.Duration

	LedgerBackend string `validate:"oneof=dynamo postgres memory"`
	DatabaseURL   string `validate:"required_if=LedgerBackend postgres"`

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	AuditTopicARN  string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	CorrelationTTL      time.Duration
	CorrelationCapacity int

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Verifications     string
	FingerprintClaims string
	PendingErasures   string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:       getEnv("APP_PORT", "3000"),
		AppEnv:        getEnv("APP_ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		ResultBaseURL: getEnv("RESULT_BASE_URL", ""),

		IPSalt: getEnv("IP_SALT", ""),

		DiscordClientID:     getEnv("DISCORD_CLIENT_ID", ""),
		DiscordClientSecret: getEnv("DISCORD_CLIENT_SECRET", ""),
		DiscordBotToken:     getEnv("DISCORD_BOT_TOKEN", getEnv("DISCORD_TOKEN", "")),
		DiscordAPIBase:      getEnv("DISCORD_API_BASE", "https://discord.com/api"),
		GuildID:             getEnv("GUILD_ID", ""),
		MutedRoleID:         getEnv("MUTED_ROLE_ID", ""),
		AltRoleID:           getEnv("ALT_ROLE_ID", ""),
		MemberRoleIDs:       getEnvList("MEMBER_ROLE_IDS"),
		LogWebhookURL:       getEnv("LOG_WEBHOOK_URL", ""),

		IPAPIBaseURL:       getEnv("IPAPI_BASE_URL", "http://ip-api.com"),
		IPAPITimeout:       getEnvDuration("IPAPI_TIMEOUT", 3*time.Second),
		IPAPIRatePerMinute: getEnvInt("IPAPI_RATE_PER_MINUTE", 45),
		RedisURL:           getEnv("REDIS_URL", ""),
		ReputationCacheTTL: getEnvDuration("REPUTATION_CACHE_TTL", 6*time.Hour),

		LedgerBackend: getEnv("LEDGER_BACKEND", "dynamo"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Verifications:     getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
			FingerprintClaims: getEnv("DYNAMO_TABLE_FINGERPRINT_CLAIMS", "fingerprint_claims"),
			PendingErasures:   getEnv("DYNAMO_TABLE_PENDING_ERASURES", "pending_erasures"),
		},
		S3BucketName:  getEnv("S3_BUCKET_NAME", ""),
		AuditTopicARN: getEnv("AUDIT_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 12*time.Hour),

		CorrelationTTL:      getEnvDuration("CORRELATION_TTL", 10*time.Minute),
		CorrelationCapacity: getEnvInt("CORRELATION_CAPACITY", 10000),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// Validate checks the settings the verification flow cannot run without.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CallbackURL is the OAuth redirect URI registered with Discord.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/callback"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
