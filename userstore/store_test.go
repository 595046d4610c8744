package userstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*Redis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(rdb, "test"), func() {
		_ = rdb.Close()
		mr.Close()
	}
}

// backends runs fn against every store that needs no external service.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("redis", func(t *testing.T) {
		s, done := newRedisStore(t)
		defer done()
		fn(t, s)
	})
}

func seedUser(t *testing.T, s Store) *User {
	t.Helper()
	u := &User{
		Email:        "  Alice@Example.COM ",
		FirstName:    "Alice",
		LastName:     "Liddell",
		Age:          30,
		PasswordHash: "$argon2id$stub",
	}
	if err := s.Create(context.Background(), u); err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

func TestCreateAndFind(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		u := seedUser(t, s)
		if u.ID == "" {
			t.Fatal("expected id to be assigned")
		}
		if u.Email != "alice@example.com" {
			t.Fatalf("expected normalized email, got %q", u.Email)
		}

		ctx := context.Background()
		byEmail, err := s.FindByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("find by email: %v", err)
		}
		byID, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		for _, got := range []*User{byEmail, byID} {
			if got.ID != u.ID || got.FirstName != "Alice" || got.Age != 30 || got.EmailVerified {
				t.Fatalf("unexpected user: %+v", got)
			}
			if !got.CreatedAt.Equal(u.CreatedAt) {
				t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, u.CreatedAt)
			}
		}

		if _, err := s.FindByEmail(ctx, "bob@example.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreateDuplicateEmail(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		seedUser(t, s)
		dup := &User{Email: "alice@example.com", FirstName: "A", LastName: "B", PasswordHash: "x"}
		if err := s.Create(context.Background(), dup); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestUpdatePatch(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		u := seedUser(t, s)
		ctx := context.Background()

		verified := true
		hash := "$argon2id$new"
		if err := s.Update(ctx, u.ID, Patch{EmailVerified: &verified, PasswordHash: &hash}); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !got.EmailVerified || got.PasswordHash != hash || got.FirstName != "Alice" {
			t.Fatalf("patch not applied correctly: %+v", got)
		}

		if err := s.Update(ctx, "missing", Patch{EmailVerified: &verified}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSessionCompareAndSwap(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		u := seedUser(t, s)
		ctx := context.Background()

		if err := s.SetSessionID(ctx, u.ID, "s1"); err != nil {
			t.Fatalf("set session: %v", err)
		}
		ok, err := s.CompareAndSwapSessionID(ctx, u.ID, "stale", "s2")
		if err != nil || ok {
			t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
		}
		ok, err = s.CompareAndSwapSessionID(ctx, u.ID, "s1", "s2")
		if err != nil || !ok {
			t.Fatalf("expected swap, got ok=%v err=%v", ok, err)
		}
		ok, err = s.CompareAndSwapSessionID(ctx, u.ID, "s2", "")
		if err != nil || !ok {
			t.Fatalf("expected clear, got ok=%v err=%v", ok, err)
		}

		got, _ := s.FindByID(ctx, u.ID)
		if got.CurrentSessionID != "" {
			t.Fatalf("expected cleared session, got %q", got.CurrentSessionID)
		}

		if _, err := s.CompareAndSwapSessionID(ctx, "missing", "", "x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSessionCompareAndSwapConcurrent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		u := seedUser(t, s)
		ctx := context.Background()
		if err := s.SetSessionID(ctx, u.ID, "origin"); err != nil {
			t.Fatalf("set session: %v", err)
		}

		const workers = 16
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			start   = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				ok, err := s.CompareAndSwapSessionID(ctx, u.ID, "origin", string(rune('a'+i)))
				if err != nil {
					t.Errorf("cas: %v", err)
					return
				}
				if ok {
					winners.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if n := winners.Load(); n != 1 {
			t.Fatalf("expected exactly one winner, got %d", n)
		}
	})
}
