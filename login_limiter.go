package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/internal/rate"
)

// loginLimiter adapts the generic fixed-window limiter to the login flow.
type loginLimiter struct {
	limiter  *rate.Limiter
	email    rate.Window
	ip       rate.Window
	enableIP bool
}

func newLoginLimiter(l *rate.Limiter, cfg LoginThrottleConfig) *loginLimiter {
	if !cfg.Enabled {
		return nil
	}
	return &loginLimiter{
		limiter:  l,
		email:    rate.Window{Prefix: "rl:login:", Max: cfg.MaxAttempts, Period: cfg.Cooldown},
		ip:       rate.Window{Prefix: "rl:login-ip:", Max: cfg.MaxAttempts, Period: cfg.Cooldown},
		enableIP: cfg.EnableIPThrottle,
	}
}

func (l *loginLimiter) CheckLogin(ctx context.Context, email, ip string) error {
	if err := l.limiter.Check(ctx, l.email, email); err != nil {
		return err
	}
	if l.enableIP && ip != "" {
		return l.limiter.Check(ctx, l.ip, ip)
	}
	return nil
}

func (l *loginLimiter) IncrementLogin(ctx context.Context, email, ip string) error {
	if err := l.limiter.Hit(ctx, l.email, email); err != nil {
		return err
	}
	if l.enableIP && ip != "" {
		return l.limiter.Hit(ctx, l.ip, ip)
	}
	return nil
}

// ResetLogin clears only the per-email counter; one user's success must not
// wipe failures other accounts accumulated from the same IP.
func (l *loginLimiter) ResetLogin(ctx context.Context, email, _ string) error {
	return l.limiter.Reset(ctx, l.email, email)
}
