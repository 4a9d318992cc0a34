package phoneindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

const (
	defaultKeyPrefix = "rolodex:"
	phoneSegment     = "phone:"
	ownerSegment     = "owner:"
)

// reserveScript claims KEYS[2..n] for ARGV[1] unless one is owned by someone
// else, in which case it returns {key, owner} and writes nothing.
// KEYS[1] is the owner's key set.
var reserveScript = redis.NewScript(`
local id = ARGV[1]
for i = 2, #KEYS do
	local owner = redis.call('GET', KEYS[i])
	if owner and owner ~= id then
		return {KEYS[i], owner}
	end
end
for i = 2, #KEYS do
	redis.call('SET', KEYS[i], id)
	redis.call('SADD', KEYS[1], KEYS[i])
end
return {}
`)

// releaseScript deletes every key in the owner set still pointing at ARGV[1].
var releaseScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, k in ipairs(members) do
	if redis.call('GET', k) == ARGV[1] then
		redis.call('DEL', k)
	end
end
redis.call('DEL', KEYS[1])
return #members
`)

// Redis is a phone index shared by every instance pointed at the same Redis.
// Reserve and Release run as Lua scripts, so each is atomic server-side.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a Redis index.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces all index keys. Defaults to "rolodex:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) phoneKey(k phone.Key) string {
	return r.prefix + phoneSegment + string(k)
}

func (r *Redis) ownerKey(id models.ContactID) string {
	return r.prefix + ownerSegment + id.String()
}

func (r *Redis) LookupOwner(ctx context.Context, key phone.Key) (models.ContactID, bool, error) {
	raw, err := r.client.Get(ctx, r.phoneKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return models.ContactID{}, false, nil
	}
	if err != nil {
		return models.ContactID{}, false, fmt.Errorf("lookup phone owner: %w", err)
	}
	owner, err := models.ParseContactID(raw)
	if err != nil {
		return models.ContactID{}, false, fmt.Errorf("lookup phone owner: corrupt owner %q: %w", raw, err)
	}
	return owner, true, nil
}

func (r *Redis) Reserve(ctx context.Context, id models.ContactID, keys []phone.Key) error {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys)+1)
	redisKeys = append(redisKeys, r.ownerKey(id))
	for _, k := range keys {
		redisKeys = append(redisKeys, r.phoneKey(k))
	}

	res, err := reserveScript.Run(ctx, r.client, redisKeys, id.String()).StringSlice()
	if err != nil {
		return fmt.Errorf("reserve phone keys: %w", err)
	}
	if len(res) == 2 {
		owner, err := models.ParseContactID(res[1])
		if err != nil {
			return fmt.Errorf("reserve phone keys: corrupt owner %q: %w", res[1], err)
		}
		return &models.ConflictError{
			Key:   phone.Key(strings.TrimPrefix(res[0], r.prefix+phoneSegment)),
			Owner: owner,
		}
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, id models.ContactID) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.ownerKey(id)}, id.String()).Err(); err != nil {
		return fmt.Errorf("release phone keys: %w", err)
	}
	return nil
}

// Rebuild validates the snapshot before touching Redis, then replaces the
// phone and owner keys in one MULTI/EXEC. Other keys under the prefix, such
// as the directory write lock, are left alone.
func (r *Redis) Rebuild(ctx context.Context, contacts []*models.Contact) error {
	owners, err := snapshotOwners(contacts)
	if err != nil {
		return err
	}

	var stale []string
	for _, segment := range []string{phoneSegment, ownerSegment} {
		iter := r.client.Scan(ctx, 0, r.prefix+segment+"*", 500).Iterator()
		for iter.Next(ctx) {
			stale = append(stale, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("rebuild phone index: scan: %w", err)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for k, id := range owners {
			pipe.Set(ctx, r.phoneKey(k), id.String(), 0)
			pipe.SAdd(ctx, r.ownerKey(id), r.phoneKey(k))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild phone index: %w", err)
	}
	return nil
}
