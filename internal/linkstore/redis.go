package linkstore

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/linkgate/internal/errx"
)

// metadataSuffix names the hash holding an entry's metadata: "{<key>}:meta".
// Slugs cannot contain ':', so the hash never collides with a value key.
const metadataSuffix = ":meta"

// putIfAbsentScript writes the value, its metadata hash and the shared expiry
// in one step. It returns 0 without touching anything when KEYS[1] is live.
//
// KEYS[1] value key, KEYS[2] metadata hash
// ARGV[1] value, ARGV[2] expire-at epoch seconds (0 for none), ARGV[3..] field/value pairs
var putIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
if #ARGV > 2 then
	redis.call('HSET', KEYS[2], unpack(ARGV, 3))
end
local expireAt = tonumber(ARGV[2])
if expireAt > 0 then
	redis.call('EXPIREAT', KEYS[1], expireAt)
	if #ARGV > 2 then
		redis.call('EXPIREAT', KEYS[2], expireAt)
	end
end
return 1
`)

// Redis is a Store backed by a Redis server. Expiry is delegated to Redis.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// metadataKey hash-tags the value key so that both keys map to the same
// cluster slot. Keys must not contain braces of their own.
func metadataKey(key string) string { return "{" + key + "}" + metadataSuffix }

func mapRedisError(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return errx.E(op, errx.NotFound, ErrNotFound)
	}
	return errx.E(op, errx.Unavailable, err)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "linkstore.redis.Get"

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, mapRedisError(op, err)
	}
	return val, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	const op = "linkstore.redis.Exists"

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, mapRedisError(op, err)
	}
	return n > 0, nil
}

// Metadata returns the metadata hash stored with key.
func (r *Redis) Metadata(ctx context.Context, key string) (map[string]string, error) {
	const op = "linkstore.redis.Metadata"

	meta, err := r.client.HGetAll(ctx, metadataKey(key)).Result()
	if err != nil {
		return nil, mapRedisError(op, err)
	}
	if len(meta) == 0 {
		return nil, errx.E(op, errx.NotFound, ErrNotFound)
	}
	return meta, nil
}

func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte, opts PutOptions) error {
	const op = "linkstore.redis.PutIfAbsent"

	var expireAt int64
	if !opts.ExpiresAt.IsZero() {
		expireAt = opts.ExpiresAt.Unix()
	}

	args := make([]any, 0, 2+2*len(opts.Metadata))
	args = append(args, value, expireAt)
	for _, field := range slices.Sorted(maps.Keys(opts.Metadata)) {
		args = append(args, field, opts.Metadata[field])
	}

	written, err := putIfAbsentScript.Run(ctx, r.client, []string{key, metadataKey(key)}, args...).Int()
	if err != nil {
		return mapRedisError(op, err)
	}
	if written == 0 {
		return errx.E(op, errx.Conflict, ErrExists)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	const op = "linkstore.redis.Delete"

	if err := r.client.Del(ctx, key, metadataKey(key)).Err(); err != nil {
		return mapRedisError(op, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	const op = "linkstore.redis.Ping"

	if err := r.client.Ping(ctx).Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}
