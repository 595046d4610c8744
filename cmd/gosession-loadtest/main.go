package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type options struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

type userState struct {
	id  string
	sid string
	mu  sync.Mutex
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "gosession-loadtest",
		Short:        "Measure user lookup and session rotation against Redis",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.users, "users", 100000, "number of users to seed")
	f.IntVar(&o.concurrency, "concurrency", 256, "number of concurrent workers")
	f.IntVar(&o.ops, "ops", 200000, "operations per phase (lookup + rotate)")
	f.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&o.prefix, "prefix", "lt", "user key prefix")
	return cmd
}

func run(cmd *cobra.Command, o options) error {
	if o.users <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("users, concurrency, and ops must be > 0")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		cmd.Printf("using miniredis at %s\n", addr)
	} else {
		cmd.Printf("using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	store := userstore.NewRedis(client, o.prefix)

	states := make([]userState, o.users)
	cmd.Printf("seeding %d users...\n", o.users)
	startSeed := time.Now()
	for i := range states {
		u := &userstore.User{
			ID:               uuid.NewString(),
			Email:            fmt.Sprintf("load-%d@example.com", i),
			FirstName:        "Load",
			LastName:         "Test",
			PasswordHash:     "$argon2id$unused",
			CurrentSessionID: uuid.NewString(),
		}
		if err := store.Create(ctx, u); err != nil {
			return fmt.Errorf("seed user %d: %w", i, err)
		}
		states[i].id, states[i].sid = u.ID, u.CurrentSessionID
	}
	cmd.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(o, 7919, func(r *rand.Rand, _ int) error {
		_, err := store.FindByID(ctx, states[r.Intn(len(states))].id)
		return err
	})
	rotate := runPhase(o, 6151, func(r *rand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		next := uuid.NewString()
		ok, err := store.CompareAndSwapSessionID(ctx, s.id, s.sid, next)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("session id moved")
		}
		s.sid = next
		return nil
	})

	cmd.Println("---- results ----")
	cmd.Println(lookup.format("lookup"))
	cmd.Println(rotate.format("rotate"))
	return nil
}

// runPhase spreads o.ops calls of op over o.concurrency goroutines.
func runPhase(o options, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, o.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < o.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= o.ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}
