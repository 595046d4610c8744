package config

import "time"

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Cookie struct {
	Secure   bool   `mapstructure:"secure"`
	Domain   string `mapstructure:"domain"`
	SameSite string `mapstructure:"same_site"`
}

type Redis struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

// Store selects the user store: memory, redis or postgres.
type Store struct {
	Driver      string `mapstructure:"driver"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type DB struct {
	DSN          string        `mapstructure:"dsn"`
	MaxConns     int32         `mapstructure:"max_conns"`
	MinConns     int32         `mapstructure:"min_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type JWT struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

type Password struct {
	MinLength      int     `mapstructure:"min_length"`
	MinEntropyBits float64 `mapstructure:"min_entropy_bits"`
	ArgonMemory    uint32  `mapstructure:"argon_memory"`
	ArgonTime      uint32  `mapstructure:"argon_time"`
	ArgonThreads   uint8   `mapstructure:"argon_threads"`
}

type LoginThrottle struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	PerIP       bool          `mapstructure:"per_ip"`
}

type Verification struct {
	ClientURL      string        `mapstructure:"client_url"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	MaxResends     int           `mapstructure:"max_resends"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
}

type Queue struct {
	Prefix         string        `mapstructure:"prefix"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	CompletedAge   time.Duration `mapstructure:"completed_age"`
	CompletedCount int           `mapstructure:"completed_count"`
	FailedAge      time.Duration `mapstructure:"failed_age"`
}

type Worker struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RateMax      int           `mapstructure:"rate_max"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
}

// SMTP with an empty Host logs messages instead of sending them.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type Audit struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	App           App           `mapstructure:"app"`
	Log           Log           `mapstructure:"log"`
	HTTP          HTTP          `mapstructure:"http"`
	Cookie        Cookie        `mapstructure:"cookie"`
	Redis         Redis         `mapstructure:"redis"`
	Store         Store         `mapstructure:"store"`
	DB            DB            `mapstructure:"db"`
	JWT           JWT           `mapstructure:"jwt"`
	Password      Password      `mapstructure:"password"`
	LoginThrottle LoginThrottle `mapstructure:"login_throttle"`
	Verification  Verification  `mapstructure:"verification"`
	Queue         Queue         `mapstructure:"queue"`
	Worker        Worker        `mapstructure:"worker"`
	SMTP          SMTP          `mapstructure:"smtp"`
	Audit         Audit         `mapstructure:"audit"`
}
