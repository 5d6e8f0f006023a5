package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	SFTP      SFTPConfig
	Storage   StorageConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	URL      string // overrides Addr/Password/DB when set
}

type JWTConfig struct {
	Secret string
}

// Auth modes
const (
	AuthModeJWT     = "jwt"
	AuthModeGateway = "gateway"
)

type AuthConfig struct {
	// Mode selects bearer-token checks or identity headers set by a gateway
	Mode string
	// OIDCIssuer enables JWKS verification of bearer tokens; HMAC tokens
	// signed with JWT.Secret remain accepted as a fallback
	OIDCIssuer   string
	OIDCAudience string
}

type RateLimitConfig struct {
	SubmitPerMin int
}

// SFTPConfig holds the credentials of the Sentinel file host.
type SFTPConfig struct {
	Server         string
	Port           int
	Username       string
	Password       string
	KnownHostsFile string
}

type StorageConfig struct {
	AccountID       string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type WorkerConfig struct {
	Concurrency int
}

// Environment variables holding the SFTP credentials.
const (
	EnvSFTPServer   = "SENTINEL_SFTP_SERVER"
	EnvSFTPUsername = "SENTINEL_SFTP_USERNAME"
	EnvSFTPPassword = "SENTINEL_SFTP_PASSWORD"
)

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("REDIS_URL")
	readSecret("JWT_SECRET")
	readSecret(EnvSFTPPassword)
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("auth.mode", "AUTH_MODE")
	_ = v.BindEnv("auth.oidc_issuer", "OIDC_ISSUER")
	_ = v.BindEnv("auth.oidc_audience", "OIDC_AUDIENCE")
	_ = v.BindEnv("ratelimit.submit_per_min", "RATELIMIT_SUBMIT_PER_MIN")
	_ = v.BindEnv("sftp.server", EnvSFTPServer)
	_ = v.BindEnv("sftp.port", "SENTINEL_SFTP_PORT")
	_ = v.BindEnv("sftp.username", EnvSFTPUsername)
	_ = v.BindEnv("sftp.password", EnvSFTPPassword)
	_ = v.BindEnv("sftp.known_hosts_file", "SENTINEL_SFTP_KNOWN_HOSTS")
	_ = v.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("auth.mode", AuthModeJWT)
	v.SetDefault("ratelimit.submit_per_min", 60)
	v.SetDefault("sftp.port", 22)
	v.SetDefault("storage.bucket_name", "doc-index")
	v.SetDefault("worker.concurrency", 10)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			URL:      v.GetString("redis.url"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Auth: AuthConfig{
			Mode:         strings.ToLower(v.GetString("auth.mode")),
			OIDCIssuer:   strings.TrimSuffix(v.GetString("auth.oidc_issuer"), "/"),
			OIDCAudience: v.GetString("auth.oidc_audience"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMin: v.GetInt("ratelimit.submit_per_min"),
		},
		SFTP: SFTPConfig{
			Server:         v.GetString("sftp.server"),
			Port:           v.GetInt("sftp.port"),
			Username:       v.GetString("sftp.username"),
			Password:       v.GetString("sftp.password"),
			KnownHostsFile: v.GetString("sftp.known_hosts_file"),
		},
		Storage: StorageConfig{
			AccountID:       v.GetString("storage.account_id"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
		},
	}

	switch cfg.Auth.Mode {
	case AuthModeJWT, AuthModeGateway:
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}

	return cfg, nil
}

// Address returns the Redis connection URL.
func (c RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "redis",
		Host:   c.Addr,
		Path:   "/" + strconv.Itoa(c.DB),
	}
	if c.Password != "" {
		u.User = url.UserPassword("", c.Password)
	}
	return u.String()
}

// Validate reports every missing SFTP credential at once. It is meant to be
// called at startup so a misconfigured worker never starts.
func (c SFTPConfig) Validate() error {
	var missing []string
	if c.Server == "" {
		missing = append(missing, EnvSFTPServer)
	}
	if c.Username == "" {
		missing = append(missing, EnvSFTPUsername)
	}
	if c.Password == "" {
		missing = append(missing, EnvSFTPPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("sftp: set env variable(s) %s first", strings.Join(missing, ", "))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("sftp: invalid port %d", c.Port)
	}
	return nil
}

// Addr returns the host:port of the SFTP server.
func (c SFTPConfig) Addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// IsConfigured reports whether object storage credentials are present.
func (c StorageConfig) IsConfigured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && (c.AccountID != "" || c.Endpoint != "")
}
