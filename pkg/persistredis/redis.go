// Package persistredis implements storecache.PersistentCore on top of
// Redis, so a CachedStore can survive process restarts and be shared
// across multiple evaluator instances. Each kind is one Redis hash,
// keyed by item key; a separate marker key records whether Init has
// ever completed.
package persistredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/storecache"
)

// Config is the connection-retry shape used for every external backend
// in this module: a connection URL plus bounded retry/timeout knobs.
type Config struct {
	ConnectionURL  string
	KeyPrefix      string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "flagkit"
	}
	return c
}

// Connect dials Redis, retrying up to cfg.RetryAttempts times with
// cfg.RetryInterval between attempts.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("persistredis: parsing connection url: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		client := redis.NewClient(opt)
		if pingErr := client.Ping(ctx).Err(); pingErr == nil {
			return client, nil
		} else {
			lastErr = pingErr
			_ = client.Close()
		}

		if attempt == cfg.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("persistredis: redis not ready: %w", ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, fmt.Errorf("persistredis: redis not ready after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

// Core implements storecache.PersistentCore over a redis.UniversalClient.
type Core struct {
	client redis.UniversalClient
	prefix string
	log    *logger.Logger
}

var _ storecache.PersistentCore = (*Core)(nil)

// NewCore wraps an already-connected client. keyPrefix namespaces all
// keys this Core touches so one Redis instance can host multiple
// environments.
func NewCore(client redis.UniversalClient, keyPrefix string, log *logger.Logger) *Core {
	if keyPrefix == "" {
		keyPrefix = "flagkit"
	}
	return &Core{client: client, prefix: keyPrefix, log: log}
}

func (c *Core) hashKey(kind flagmodel.Kind) string {
	return c.prefix + ":items:" + string(kind)
}

func (c *Core) initedKey() string {
	return c.prefix + ":inited"
}

// wireEntry is the JSON envelope stored in each hash field. Keeping it
// distinct from flagmodel.SerializedItemDescriptor means a future wire
// format change doesn't ripple into the store package.
type wireEntry struct {
	Version int    `json:"v"`
	Item    []byte `json:"i,omitempty"`
}

func encode(sd flagmodel.SerializedItemDescriptor) ([]byte, error) {
	return json.Marshal(wireEntry{Version: sd.Version, Item: sd.Item})
}

func decode(raw []byte) (flagmodel.SerializedItemDescriptor, error) {
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return flagmodel.SerializedItemDescriptor{}, err
	}
	return flagmodel.SerializedItemDescriptor{Version: w.Version, Item: w.Item}, nil
}

// upsertScript applies the version gate atomically: the write lands
// only if no existing entry has a version >= the incoming one.
var upsertScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
local newVersion = tonumber(ARGV[2])
if existing then
	local ok, decoded = pcall(cjson.decode, existing)
	if ok and decoded.v ~= nil and tonumber(decoded.v) >= newVersion then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// Init replaces every kind's hash wholesale and marks the store
// initialized, all inside one Redis transaction so a reader never
// observes a partial replacement.
func (c *Core) Init(data []storecache.SerializedCollection) error {
	ctx := context.Background()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, coll := range data {
			hk := c.hashKey(coll.Kind)
			pipe.Del(ctx, hk)
			if len(coll.Items) == 0 {
				continue
			}
			fields := make(map[string]interface{}, len(coll.Items))
			for key, sd := range coll.Items {
				enc, encErr := encode(sd)
				if encErr != nil {
					return fmt.Errorf("encoding %s/%s: %w", coll.Kind, key, encErr)
				}
				fields[key] = enc
			}
			pipe.HSet(ctx, hk, fields)
		}
		pipe.Set(ctx, c.initedKey(), "1", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persistredis: init: %w", err)
	}
	return nil
}

// Get returns a SerializedItemDescriptor with Version -1 and a nil Item
// when the key has never been stored, distinct from a tombstone (which
// has a real, non-negative deletion version).
func (c *Core) Get(kind flagmodel.Kind, key string) (flagmodel.SerializedItemDescriptor, error) {
	ctx := context.Background()
	raw, err := c.client.HGet(ctx, c.hashKey(kind), key).Bytes()
	if err == redis.Nil {
		return flagmodel.SerializedItemDescriptor{Version: flagmodel.MissingVersion}, nil
	}
	if err != nil {
		return flagmodel.SerializedItemDescriptor{}, fmt.Errorf("persistredis: get %s/%s: %w", kind, key, err)
	}
	return decode(raw)
}

func (c *Core) GetAll(kind flagmodel.Kind) (map[string]flagmodel.SerializedItemDescriptor, error) {
	ctx := context.Background()
	raws, err := c.client.HGetAll(ctx, c.hashKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("persistredis: getAll %s: %w", kind, err)
	}
	out := make(map[string]flagmodel.SerializedItemDescriptor, len(raws))
	for key, v := range raws {
		sd, derr := decode([]byte(v))
		if derr != nil {
			return nil, fmt.Errorf("persistredis: getAll %s: decoding %s: %w", kind, key, derr)
		}
		out[key] = sd
	}
	return out, nil
}

func (c *Core) Upsert(kind flagmodel.Kind, key string, item flagmodel.SerializedItemDescriptor) (bool, error) {
	ctx := context.Background()
	enc, err := encode(item)
	if err != nil {
		return false, fmt.Errorf("persistredis: encoding %s/%s: %w", kind, key, err)
	}
	applied, err := upsertScript.Run(ctx, c.client, []string{c.hashKey(kind)}, key, item.Version, enc).Int()
	if err != nil {
		return false, fmt.Errorf("persistredis: upsert %s/%s: %w", kind, key, err)
	}
	return applied == 1, nil
}

func (c *Core) Initialized() (bool, error) {
	ctx := context.Background()
	n, err := c.client.Exists(ctx, c.initedKey()).Result()
	if err != nil {
		return false, fmt.Errorf("persistredis: initialized: %w", err)
	}
	return n > 0, nil
}

// IsAvailable does the smallest possible round trip, a Ping, so it is
// cheap enough to poll from a background availability loop.
func (c *Core) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

func (c *Core) Close() error {
	return c.client.Close()
}
