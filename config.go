package goSession

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/jwt"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	JWT               JWTConfig
	Password          PasswordConfig
	LoginThrottle     LoginThrottleConfig
	EmailVerification EmailVerificationConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures both token managers. Access and refresh tokens must
// be signed with different keys.
type JWTConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	AccessKey        []byte
	RefreshKey       []byte
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	Issuer           string
	Audience         string
	Leeway           time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and the registration policy.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
	// AcceptBcrypt keeps digests from the previous bcrypt deployment valid.
	AcceptBcrypt bool
	MinLength    int
	// MinEntropyBits is passed to go-password-validator. Zero disables the
	// entropy check.
	MinEntropyBits float64
}

/*
====================================
LOGIN THROTTLE CONFIG
====================================
*/

// LoginThrottleConfig bounds failed logins per email, and per client IP
// when EnableIPThrottle is set and the caller attached one with WithClientIP.
type LoginThrottleConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// EmailVerificationConfig controls verification tokens and resend throttling.
type EmailVerificationConfig struct {
	TokenTTL       time.Duration
	ClientURL      string
	Priority       int
	MaxResends     int
	ResendCooldown time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a config with every field except the JWT keys set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "gosession",
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
			AcceptBcrypt:     true,
			MinLength:        8,
			MinEntropyBits:   0,
		},
		LoginThrottle: LoginThrottleConfig{
			Enabled:          true,
			EnableIPThrottle: false,
			MaxAttempts:      5,
			Cooldown:         15 * time.Minute,
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:       30 * time.Minute,
			ClientURL:      "http://localhost:3000",
			Priority:       1,
			MaxResends:     3,
			ResendCooldown: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessKey = cloneBytes(cfg.JWT.AccessKey)
	out.JWT.RefreshKey = cloneBytes(cfg.JWT.RefreshKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field. Token manager construction
// repeats the key checks in more detail.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.AccessKey) < 32 || len(c.JWT.RefreshKey) < 32 {
			return errors.New("hs256 requires AccessKey and RefreshKey of at least 32 bytes")
		}
		if string(c.JWT.AccessKey) == string(c.JWT.RefreshKey) {
			return errors.New("AccessKey and RefreshKey must differ")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.AccessKey) == 0 || len(c.JWT.RefreshKey) == 0 {
			return errors.New("ed25519 requires AccessKey and RefreshKey")
		}
		if len(c.JWT.AccessPublicKey) == 0 || len(c.JWT.RefreshPublicKey) == 0 {
			return errors.New("ed25519 requires AccessPublicKey and RefreshPublicKey")
		}
		if string(c.JWT.AccessPublicKey) == string(c.JWT.RefreshPublicKey) {
			return errors.New("access and refresh key pairs must differ")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxPasswordBytes > 0 && c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}
	if c.Password.MinEntropyBits < 0 {
		return errors.New("Password MinEntropyBits must be >= 0")
	}

	// Login throttle
	if c.LoginThrottle.Enabled {
		if c.LoginThrottle.MaxAttempts <= 0 {
			return errors.New("LoginThrottle MaxAttempts must be > 0")
		}
		if c.LoginThrottle.Cooldown <= 0 {
			return errors.New("LoginThrottle Cooldown must be > 0")
		}
	}

	// Email verification
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}
	if strings.TrimSpace(c.EmailVerification.ClientURL) == "" {
		return errors.New("EmailVerification ClientURL must be set")
	}
	if c.EmailVerification.MaxResends < 0 {
		return errors.New("EmailVerification MaxResends must be >= 0")
	}
	if c.EmailVerification.MaxResends > 0 && c.EmailVerification.ResendCooldown <= 0 {
		return errors.New("EmailVerification ResendCooldown must be > 0 when MaxResends is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
