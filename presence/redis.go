package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRedisKey is the hash holding user id -> last-seen unix milliseconds
const DefaultRedisKey = "presence:last_seen"

// only overwrite when the new timestamp is newer than what is stored
var upsertScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if (not current) or (tonumber(current) < tonumber(ARGV[2])) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// RedisStore keeps last-seen timestamps in a single redis hash
type RedisStore struct {
	client *redis.Client
	key    string
}

// OpenRedisStore connects to the redis at url and pings it
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing redis URL")
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "error connecting to redis")
	}

	logrus.WithField("comp", "presence").WithField("addr", opt.Addr).Info("connected to redis")
	return NewRedisStore(client, DefaultRedisKey), nil
}

// NewRedisStore wraps an existing client, storing timestamps under key
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) GetAll(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading last seen hash")
	}

	all := make(map[string]time.Time, len(raw))
	for userID, value := range raw {
		at, err := parseMillis(value)
		if err != nil {
			logrus.WithField("comp", "presence").WithField("user_id", userID).WithError(err).Warn("skipping unparseable last seen value")
			continue
		}
		all[userID] = at
	}
	return all, nil
}

func (s *RedisStore) GetOne(ctx context.Context, userID string) (time.Time, bool, error) {
	value, err := s.client.HGet(ctx, s.key, userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "error reading last seen for %s", userID)
	}

	at, err := parseMillis(value)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "bad last seen value for %s", userID)
	}
	return at, true, nil
}

func (s *RedisStore) Upsert(ctx context.Context, userID string, at time.Time) error {
	err := upsertScript.Run(ctx, s.client, []string{s.key}, userID, at.UnixMilli()).Err()
	if err != nil {
		return errors.Wrapf(err, "error writing last seen for %s", userID)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMillis(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
