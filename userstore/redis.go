package userstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldID         = "id"
	fieldEmail      = "email"
	fieldFirstName  = "first_name"
	fieldLastName   = "last_name"
	fieldAge        = "age"
	fieldPassword   = "password_hash"
	fieldSessionID  = "sid"
	fieldVerified   = "verified"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
	scriptNotFound  = int64(-1)
	scriptMismatch  = int64(0)
	scriptApplied   = int64(1)
	defaultUserKeys = "gs"
)

// KEYS: email index, user hash. ARGV: id, then field/value pairs.
var createUserLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], unpack(ARGV, 2))
return 1
`)

// KEYS: user hash. ARGV: field/value pairs.
var updateUserLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: user hash. ARGV: expected sid, next sid, updated_at.
var casSessionLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local cur = redis.call("HGET", KEYS[1], "sid")
if not cur then
  cur = ""
end
if cur ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "sid", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// Redis stores each user as a hash under "<prefix>:user:<id>" with an
// "<prefix>:email:<email>" → id index.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis returns a Redis-backed Store. An empty prefix selects "gs".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultUserKeys
	}
	return &Redis{redis: client, prefix: prefix, now: time.Now}
}

func (r *Redis) userKey(id string) string {
	return r.prefix + ":user:" + id
}

func (r *Redis) emailKey(email string) string {
	return r.prefix + ":email:" + email
}

func (r *Redis) FindByEmail(ctx context.Context, email string) (*User, error) {
	id, err := r.redis.Get(ctx, r.emailKey(NormalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.FindByID(ctx, id)
}

func (r *Redis) FindByID(ctx context.Context, id string) (*User, error) {
	fields, err := r.redis.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeUser(fields)
}

func (r *Redis) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := r.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	args := append([]interface{}{u.ID}, encodeUser(u)...)
	res, err := createUserLua.Run(ctx, r.redis, []string{r.emailKey(u.Email), r.userKey(u.ID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == 0 {
		return ErrConflict
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, id string, p Patch) error {
	args := []interface{}{fieldUpdatedAt, formatTime(r.now())}
	if p.FirstName != nil {
		args = append(args, fieldFirstName, *p.FirstName)
	}
	if p.LastName != nil {
		args = append(args, fieldLastName, *p.LastName)
	}
	if p.Age != nil {
		args = append(args, fieldAge, strconv.Itoa(*p.Age))
	}
	if p.PasswordHash != nil {
		args = append(args, fieldPassword, *p.PasswordHash)
	}
	if p.EmailVerified != nil {
		args = append(args, fieldVerified, formatBool(*p.EmailVerified))
	}
	return r.update(ctx, id, args)
}

func (r *Redis) SetSessionID(ctx context.Context, id, sessionID string) error {
	return r.update(ctx, id, []interface{}{fieldSessionID, sessionID, fieldUpdatedAt, formatTime(r.now())})
}

func (r *Redis) update(ctx context.Context, id string, args []interface{}) error {
	res, err := updateUserLua.Run(ctx, r.redis, []string{r.userKey(id)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == scriptNotFound {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) CompareAndSwapSessionID(ctx context.Context, id, expected, next string) (bool, error) {
	res, err := casSessionLua.Run(ctx, r.redis, []string{r.userKey(id)}, expected, next, formatTime(r.now())).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch res {
	case scriptApplied:
		return true, nil
	case scriptMismatch:
		return false, nil
	case scriptNotFound:
		return false, ErrNotFound
	default:
		return false, fmt.Errorf("%w: invalid cas script status %d", ErrUnavailable, res)
	}
}

func encodeUser(u *User) []interface{} {
	return []interface{}{
		fieldID, u.ID,
		fieldEmail, u.Email,
		fieldFirstName, u.FirstName,
		fieldLastName, u.LastName,
		fieldAge, strconv.Itoa(u.Age),
		fieldPassword, u.PasswordHash,
		fieldSessionID, u.CurrentSessionID,
		fieldVerified, formatBool(u.EmailVerified),
		fieldCreatedAt, formatTime(u.CreatedAt),
		fieldUpdatedAt, formatTime(u.UpdatedAt),
	}
}

func decodeUser(f map[string]string) (*User, error) {
	age, err := strconv.Atoi(f[fieldAge])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt age field", ErrUnavailable)
	}
	created, err := parseTime(f[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created_at field", ErrUnavailable)
	}
	updated, err := parseTime(f[fieldUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt updated_at field", ErrUnavailable)
	}

	return &User{
		ID:               f[fieldID],
		Email:            f[fieldEmail],
		FirstName:        f[fieldFirstName],
		LastName:         f[fieldLastName],
		Age:              age,
		PasswordHash:     f[fieldPassword],
		CurrentSessionID: f[fieldSessionID],
		EmailVerified:    f[fieldVerified] == "1",
		CreatedAt:        created,
		UpdatedAt:        updated,
	}, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
