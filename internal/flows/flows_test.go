package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/userstore"
)

type managerIssuer struct {
	access  *jwt.Manager
	refresh *jwt.Manager
}

func (m managerIssuer) IssueAccess(uid, email string) (string, error) {
	return m.access.Sign(uid, email, "")
}

func (m managerIssuer) IssueRefresh(uid, email, sid string) (string, error) {
	return m.refresh.Sign(uid, email, sid)
}

type fakeLimiter struct {
	limited    bool
	increments int
	resets     int
}

var errLimited = errors.New("limited")

func (f *fakeLimiter) CheckLogin(context.Context, string, string) error {
	if f.limited {
		return errLimited
	}
	return nil
}

func (f *fakeLimiter) IncrementLogin(context.Context, string, string) error {
	f.increments++
	return nil
}

func (f *fakeLimiter) ResetLogin(context.Context, string, string) error {
	f.resets++
	return nil
}

type fixture struct {
	users   *userstore.Memory
	issuer  managerIssuer
	limiter *fakeLimiter
	user    *userstore.User
	sids    atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	newManager := func(use jwt.Use, secret string) *jwt.Manager {
		m, err := jwt.NewManager(jwt.Config{
			Use:           use,
			TTL:           time.Minute,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    []byte(secret),
		})
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		return m
	}

	f := &fixture{
		users: userstore.NewMemory(),
		issuer: managerIssuer{
			access:  newManager(jwt.UseAccess, "access-secret-0123456789abcdef-xyz"),
			refresh: newManager(jwt.UseRefresh, "refresh-secret-0123456789abcdef-xyz"),
		},
		limiter: &fakeLimiter{},
	}
	f.user = &userstore.User{Email: "alice@example.com", FirstName: "Alice", LastName: "L", PasswordHash: "legacy:pw"}
	if err := f.users.Create(context.Background(), f.user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return f
}

func (f *fixture) newSessionID() (string, error) {
	return fmt.Sprintf("sid-%d", f.sids.Add(1)), nil
}

func (f *fixture) loginDeps() LoginDeps {
	return LoginDeps{
		Users:       f.users,
		Tokens:      f.issuer,
		Limiter:     f.limiter,
		RateLimited: errLimited,
		VerifyPassword: func(password, hash string) (bool, bool, error) {
			switch hash {
			case "legacy:" + password:
				return true, true, nil
			case "current:" + password:
				return true, false, nil
			}
			return false, false, nil
		},
		HashPassword: func(password string) (string, error) { return "current:" + password, nil },
		NewSessionID: f.newSessionID,
	}
}

func (f *fixture) refreshDeps() RefreshDeps {
	return RefreshDeps{
		ParseRefresh: f.issuer.refresh.Parse,
		Users:        f.users,
		Tokens:       f.issuer,
		NewSessionID: f.newSessionID,
	}
}

func (f *fixture) logoutDeps() LogoutDeps {
	return LogoutDeps{ParseRefresh: f.issuer.refresh.Parse, Users: f.users}
}

func TestRunLoginIssuesPairAndUpgradesHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	if res.Failure != LoginFailureNone {
		t.Fatalf("unexpected failure %v: %v", res.Failure, res.Err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || !res.Rehashed {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, _ := f.users.FindByID(ctx, f.user.ID)
	if stored.CurrentSessionID != res.SessionID {
		t.Fatalf("session id not persisted: %q vs %q", stored.CurrentSessionID, res.SessionID)
	}
	if stored.PasswordHash != "current:pw" {
		t.Fatalf("expected upgraded hash, got %q", stored.PasswordHash)
	}
	if f.limiter.resets != 1 || f.limiter.increments != 0 {
		t.Fatalf("unexpected limiter calls: %+v", f.limiter)
	}
}

func TestRunLoginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if res := RunLogin(ctx, "nobody@example.com", "pw", f.loginDeps()); res.Failure != LoginFailureUserNotFound {
		t.Fatalf("expected user not found, got %v", res.Failure)
	}
	if res := RunLogin(ctx, "alice@example.com", "wrong", f.loginDeps()); res.Failure != LoginFailureInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", res.Failure)
	}
	if f.limiter.increments != 2 {
		t.Fatalf("expected two limiter increments, got %d", f.limiter.increments)
	}

	f.limiter.limited = true
	if res := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps()); res.Failure != LoginFailureRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Failure)
	}
}

func TestRunLoginReplacesPreviousLineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	second := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	if first.Failure != LoginFailureNone || second.Failure != LoginFailureNone {
		t.Fatalf("logins failed: %v %v", first.Err, second.Err)
	}

	if res := RunRefresh(ctx, first.RefreshToken, f.refreshDeps()); res.Failure != RefreshFailureRevoked {
		t.Fatalf("expected first lineage revoked, got %v", res.Failure)
	}
	if res := RunRefresh(ctx, second.RefreshToken, f.refreshDeps()); res.Failure != RefreshFailureNone {
		t.Fatalf("expected second lineage valid, got %v", res.Failure)
	}
}

func TestRunRefreshRotatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	rotated := RunRefresh(ctx, login.RefreshToken, f.refreshDeps())
	if rotated.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %v %v", rotated.Failure, rotated.Err)
	}
	if rotated.NewSessionID == login.SessionID {
		t.Fatal("expected a new session id")
	}

	if res := RunRefresh(ctx, login.RefreshToken, f.refreshDeps()); res.Failure != RefreshFailureRevoked {
		t.Fatalf("expected reuse to be revoked, got %v", res.Failure)
	}
	if res := RunRefresh(ctx, rotated.RefreshToken, f.refreshDeps()); res.Failure != RefreshFailureNone {
		t.Fatalf("expected rotated token to work, got %v", res.Failure)
	}
}

func TestRunRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if res := RunRefresh(ctx, "not-a-token", f.refreshDeps()); res.Failure != RefreshFailureInvalidToken {
		t.Fatalf("expected invalid token, got %v", res.Failure)
	}
	login := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	if res := RunRefresh(ctx, login.AccessToken, f.refreshDeps()); res.Failure != RefreshFailureInvalidToken {
		t.Fatalf("expected access token to be rejected, got %v", res.Failure)
	}
}

func TestRunRefreshUnknownSubject(t *testing.T) {
	f := newFixture(t)
	tok, err := f.issuer.IssueRefresh("ghost", "ghost@example.com", "sid")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res := RunRefresh(context.Background(), tok, f.refreshDeps()); res.Failure != RefreshFailureUserNotFound {
		t.Fatalf("expected user not found, got %v", res.Failure)
	}
}

func TestRunRefreshConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	login := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())

	const workers = 16
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		losses atomic.Int32
		start  = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res := RunRefresh(ctx, login.RefreshToken, f.refreshDeps())
			switch res.Failure {
			case RefreshFailureNone:
				wins.Add(1)
			case RefreshFailureRevoked, RefreshFailureLostRace:
				losses.Add(1)
			default:
				t.Errorf("unexpected failure %v: %v", res.Failure, res.Err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || losses.Load() != workers-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", workers-1, wins.Load(), losses.Load())
	}
}

func TestRunLogoutOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if res := RunLogout(ctx, "garbage", f.logoutDeps()); res.Outcome != LogoutInvalidToken {
		t.Fatalf("expected invalid token outcome, got %v", res.Outcome)
	}

	first := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())
	second := RunLogin(ctx, "alice@example.com", "pw", f.loginDeps())

	if res := RunLogout(ctx, first.RefreshToken, f.logoutDeps()); res.Outcome != LogoutStale {
		t.Fatalf("expected stale outcome, got %v", res.Outcome)
	}
	stored, _ := f.users.FindByID(ctx, f.user.ID)
	if stored.CurrentSessionID != second.SessionID {
		t.Fatal("stale logout must not end the newer session")
	}

	if res := RunLogout(ctx, second.RefreshToken, f.logoutDeps()); res.Outcome != LogoutRevoked {
		t.Fatalf("expected revoked outcome, got %v", res.Outcome)
	}
	if res := RunRefresh(ctx, second.RefreshToken, f.refreshDeps()); res.Failure != RefreshFailureRevoked {
		t.Fatalf("expected refresh after logout to be revoked, got %v", res.Failure)
	}

	ghost, _ := f.issuer.IssueRefresh("ghost", "g@example.com", "sid")
	if res := RunLogout(ctx, ghost, f.logoutDeps()); res.Outcome != LogoutUnknownUser {
		t.Fatalf("expected unknown user outcome, got %v", res.Outcome)
	}
}
