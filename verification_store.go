package goSession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const verificationKeyPrefix = "gs:verify:"

var (
	errVerificationNotFound         = errors.New("verification token not found")
	errVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

// Issuing a token for a user revokes that user's previous unused token.
// KEYS: user pointer, token key. ARGV: prefix, user id, token hash, ttl ms.
var issueVerificationLua = redis.NewScript(`
local old = redis.call("GET", KEYS[1])
if old then
  redis.call("DEL", ARGV[1] .. "t:" .. old)
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[4])
redis.call("SET", KEYS[1], ARGV[3], "PX", ARGV[4])
return 1
`)

// KEYS: token key. ARGV: prefix, token hash.
var consumeVerificationLua = redis.NewScript(`
local uid = redis.call("GET", KEYS[1])
if not uid then
  return false
end
redis.call("DEL", KEYS[1])
local ptr = ARGV[1] .. "u:" .. uid
if redis.call("GET", ptr) == ARGV[2] then
  redis.call("DEL", ptr)
end
return uid
`)

// emailVerificationStore maps hashed verification tokens to user ids. A
// token can be consumed once.
type emailVerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newEmailVerificationStore(redisClient redis.UniversalClient) *emailVerificationStore {
	return &emailVerificationStore{
		redis:  redisClient,
		prefix: verificationKeyPrefix,
	}
}

func (s *emailVerificationStore) tokenKey(hash string) string {
	return s.prefix + "t:" + hash
}

func (s *emailVerificationStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

func (s *emailVerificationStore) Issue(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	err := issueVerificationLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(userID), s.tokenKey(tokenHash)},
		s.prefix,
		userID,
		tokenHash,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
	}
	return nil
}

// Consume returns the user id bound to tokenHash and deletes the binding.
func (s *emailVerificationStore) Consume(ctx context.Context, tokenHash string) (string, error) {
	uid, err := consumeVerificationLua.Run(ctx, s.redis, []string{s.tokenKey(tokenHash)}, s.prefix, tokenHash).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errVerificationNotFound
		}
		return "", fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
	}
	return uid, nil
}
