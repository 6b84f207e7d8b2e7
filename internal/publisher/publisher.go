// Package publisher writes order book state, trades and discovered spreads
// to Redis. Order books get a latest-value key, a capped stream and a
// pub/sub channel; trades get a capped stream only; spreads get a durable
// key and pub/sub channels; the spread inventory gets a key, a list, a set
// of live spread ids and a summary channel. Keys and streams carry the
// "ingest:" prefix; pub/sub channels do not.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossspread/md-ingest/internal/apperror"
	"github.com/crossspread/md-ingest/internal/model"
)

const (
	keyPrefix         = "ingest:"
	orderbookTTL      = 10 * time.Second
	spreadTTL         = 5 * time.Minute
	inventoryTTL      = 30 * time.Second
	tradeStreamMaxLen = 10000
)

// Publisher writes order book and spread state to Redis.
type Publisher struct {
	client *redis.Client
}

// Config holds Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New constructs a Publisher over a new Redis client.
func New(cfg Config) *Publisher {
	return &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,

			PoolSize:     10,
			MinIdleConns: 2,

			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,

			MaxRetries:      3,
			MinRetryBackoff: 100 * time.Millisecond,
			MaxRetryBackoff: 500 * time.Millisecond,
		}),
	}
}

// Health pings Redis.
func (p *Publisher) Health(ctx context.Context) bool {
	pong, err := p.client.Ping(ctx).Result()
	return err == nil && pong == "PONG"
}

// Close closes the underlying Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishOrderbook stores the latest order book snapshot at a deterministic
// key (so a reader gets O(1) GET latency instead of depending on stream-tail
// semantics), appends it to the venue/symbol's stream for consumers that
// want the update history, and broadcasts it on the
// orderbook:<venue>:<symbol> channel for live readers.
func (p *Publisher) PublishOrderbook(ctx context.Context, ob model.OrderBook) error {
	data, err := json.Marshal(ob)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal orderbook")
	}

	latestKey := fmt.Sprintf("%sorderbook:latest:%s:%s", keyPrefix, ob.Venue, ob.Symbol)
	if err := p.client.Set(ctx, latestKey, data, orderbookTTL).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "set latest orderbook")
	}

	streamKey := fmt.Sprintf("%sorderbook:%s:%s", keyPrefix, ob.Venue, ob.Symbol)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "append orderbook stream")
	}

	if err := p.client.Publish(ctx, fmt.Sprintf("orderbook:%s:%s", ob.Venue, ob.Symbol), data).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "publish orderbook channel")
	}

	return nil
}

// PublishTrade appends a trade print to its venue/symbol's capped stream for
// consumers tailing recent activity; unlike order books there is no
// latest-value key since a single trade has no meaningful "current state".
func (p *Publisher) PublishTrade(ctx context.Context, t model.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal trade")
	}

	streamKey := fmt.Sprintf("%strades:%s:%s", keyPrefix, t.Venue, t.Symbol)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "append trade stream")
	}

	return nil
}

// SetSpread stores one spread at a durable per-spread key.
func (p *Publisher) SetSpread(ctx context.Context, id string, spread model.PreliminarySpread) error {
	data, err := json.Marshal(spread)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal spread")
	}
	key := fmt.Sprintf("%sspread:%s", keyPrefix, id)
	if err := p.client.Set(ctx, key, data, spreadTTL).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "set spread")
	}
	return nil
}

// PublishSpread broadcasts one spread on its canonical symbol's channel and
// its own per-spread channel.
func (p *Publisher) PublishSpread(ctx context.Context, canonical string, spread model.PreliminarySpread) error {
	data, err := json.Marshal(spread)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal spread")
	}

	if err := p.client.Publish(ctx, fmt.Sprintf("spread:%s", canonical), data).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "publish spread channel")
	}
	if err := p.client.Publish(ctx, fmt.Sprintf("spread:%s", spread.ID), data).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "publish spread detail channel")
	}
	return nil
}

// SetSpreadInventory stores the full current spread inventory as a durable
// key, a capped list and a set of live spread ids, for a catch-up reader.
func (p *Publisher) SetSpreadInventory(ctx context.Context, inv model.SpreadInventory) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal spread inventory")
	}

	if err := p.client.Set(ctx, keyPrefix+"spreads:latest", data, inventoryTTL).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "set spread inventory")
	}

	listKey := keyPrefix + "spreads:list"
	activeKey := keyPrefix + "spreads:active"
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, listKey)
	pipe.Del(ctx, activeKey)
	for _, s := range inv.Spreads {
		entry, err := json.Marshal(s)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, listKey, entry)
		pipe.SAdd(ctx, activeKey, s.ID)
	}
	pipe.Expire(ctx, listKey, inventoryTTL)
	pipe.Expire(ctx, activeKey, inventoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "set spread list")
	}
	return nil
}

// PublishSpreadSummary broadcasts the full inventory on the summary channel.
func (p *Publisher) PublishSpreadSummary(ctx context.Context, inv model.SpreadInventory) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "marshal spread summary")
	}
	if err := p.client.Publish(ctx, "spreads:summary", data).Err(); err != nil {
		return apperror.Wrap(err, apperror.CodePublishFailure, "publish spread summary")
	}
	return nil
}
