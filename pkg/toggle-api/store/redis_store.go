// Package store pkg/toggle-api/store/redis_store.go
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/skycoin/dongle-services/internal/dongle"
)

const redisTimeout = 5 * time.Second

// redisPersister keeps the state in a hash: field = subnet, value = SubnetState JSON.
type redisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store persisted in the redis hash key.
func NewRedisStore(ctx context.Context, url, password, key string) (Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opt.Password = password
	}
	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &redisPersister{client: client, key: key}
	states, _, err := p.load()
	if err != nil {
		client.Close() //nolint
		return nil, err
	}
	return newMemStore(states, p), nil
}

// load reads the whole hash. Other processes write single fields, so there
// is no cheap way to tell whether it changed.
func (p *redisPersister) load() (map[int]dongle.SubnetState, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis load %s: %w", p.key, err)
	}
	states := make(map[int]dongle.SubnetState, len(fields))
	for field, raw := range fields {
		subnet, err := strconv.Atoi(field)
		if err != nil {
			return nil, false, fmt.Errorf("redis load %s: subnet field %q", p.key, field)
		}
		var st dongle.SubnetState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, false, fmt.Errorf("redis load %s/%s: %w", p.key, field, err)
		}
		states[subnet] = st
	}
	return states, true, nil
}

func (p *redisPersister) persist(states map[int]dongle.SubnetState, changed []int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	values := make([]interface{}, 0, 2*len(changed))
	for _, subnet := range changed {
		raw, err := json.Marshal(states[subnet])
		if err != nil {
			return err
		}
		values = append(values, dongle.StateKey(subnet), string(raw))
	}
	return p.client.HSet(ctx, p.key, values...).Err()
}

func (p *redisPersister) close() error {
	return p.client.Close()
}
