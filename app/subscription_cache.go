package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"

	"github.com/sweater-ventures/spigot/db"
)

const (
	subscriptionKeyPrefix        = "subscription:"
	subscriptionVersionKeyPrefix = "subscription:version:"
	globalVersionKey             = "subscription:global_version"

	// InvalidationChannel carries cache invalidation messages to every worker
	// process.
	InvalidationChannel = "subscription:updates"

	listenerRestartDelay = 5 * time.Second
)

// CachedSubscription is the JSON shape stored in the shared KV. The embedded
// cache version must match the separately stored version key or the entry is
// treated as corrupt and dropped.
type CachedSubscription struct {
	ID           string   `json:"id"`
	TargetUrl    string   `json:"target_url"`
	Secret       string   `json:"secret,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
	CacheVersion int64    `json:"_cache_version"`
}

// InvalidationMessage is published on InvalidationChannel after every
// subscription mutation.
type InvalidationMessage struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscription_id"`
	Timestamp      int64  `json:"timestamp"`
}

// SubscriptionCache is a read-through cache over the subscriptions table,
// shared between all processes via Redis. Entries are version-stamped;
// invalidations fan out over pub/sub with a monotonic global version counter
// as the fallback signal for subscribers that missed a message.
//
// Every method degrades gracefully: a cache failure must never fail the
// caller, which falls through to the database instead.
type SubscriptionCache struct {
	rdb *redis.Client
	db  db.Querier
	ttl time.Duration
}

func NewSubscriptionCache(rdb *redis.Client, querier db.Querier, ttl time.Duration) *SubscriptionCache {
	return &SubscriptionCache{rdb: rdb, db: querier, ttl: ttl}
}

func cachedFromRow(sub db.Subscription, version int64) CachedSubscription {
	rec := CachedSubscription{
		ID:           UuidToString(sub.ID),
		TargetUrl:    sub.TargetUrl,
		EventTypes:   sub.EventTypes,
		CacheVersion: version,
	}
	if sub.Secret.Valid {
		rec.Secret = sub.Secret.String
	}
	return rec
}

// Put stores a subscription with a fresh version stamp, bumps the global
// version, and publishes an invalidation so other processes drop their view.
func (c *SubscriptionCache) Put(ctx context.Context, sub db.Subscription) error {
	id := UuidToString(sub.ID)
	version := time.Now().Unix()
	rec := cachedFromRow(sub, version)

	serialized, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, subscriptionVersionKeyPrefix+id, version, c.ttl*2)
	pipe.Set(ctx, subscriptionKeyPrefix+id, serialized, c.ttl)
	pipe.Incr(ctx, globalVersionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	c.publishInvalidation(ctx, id)
	return nil
}

// Get fetches a cached subscription, validating the embedded version against
// the version key in a single round trip. A mismatch deletes the entry and
// reports a miss.
func (c *SubscriptionCache) Get(ctx context.Context, id pgtype.UUID) (CachedSubscription, bool, error) {
	idStr := UuidToString(id)

	pipe := c.rdb.Pipeline()
	dataCmd := pipe.Get(ctx, subscriptionKeyPrefix+idStr)
	versionCmd := pipe.Get(ctx, subscriptionVersionKeyPrefix+idStr)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return CachedSubscription{}, false, err
	}

	data, err := dataCmd.Result()
	if err != nil {
		return CachedSubscription{}, false, nil
	}

	var rec CachedSubscription
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		c.rdb.Del(ctx, subscriptionKeyPrefix+idStr)
		return CachedSubscription{}, false, nil
	}

	if version, err := versionCmd.Int64(); err == nil && version != rec.CacheVersion {
		c.rdb.Del(ctx, subscriptionKeyPrefix+idStr, subscriptionVersionKeyPrefix+idStr)
		return CachedSubscription{}, false, nil
	}

	return rec, true, nil
}

// Invalidate drops the cached entry and announces the removal. The publish
// happens even when no local entry existed, so deletes propagate to processes
// that cached the record independently.
func (c *SubscriptionCache) Invalidate(ctx context.Context, id pgtype.UUID) error {
	idStr := UuidToString(id)

	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, subscriptionKeyPrefix+idStr)
	pipe.Del(ctx, subscriptionVersionKeyPrefix+idStr)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to delete cached subscription", "error", err, "subscription_id", idStr)
	}

	return c.publishInvalidation(ctx, idStr)
}

func (c *SubscriptionCache) publishInvalidation(ctx context.Context, id string) error {
	msg, _ := json.Marshal(InvalidationMessage{
		Action:         "invalidate",
		SubscriptionID: id,
		Timestamp:      time.Now().Unix(),
	})

	pipe := c.rdb.Pipeline()
	pipe.Publish(ctx, InvalidationChannel, msg)
	pipe.Incr(ctx, globalVersionKey)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to publish cache invalidation", "error", err, "subscription_id", id)
		return err
	}
	return nil
}

// GlobalVersion returns the monotonic counter bumped on every mutation.
// Workers compare it across runs to detect invalidations they missed on the
// pub/sub channel. Returns 0 when the counter is unset or unreachable.
func (c *SubscriptionCache) GlobalVersion(ctx context.Context) int64 {
	version, err := c.rdb.Get(ctx, globalVersionKey).Int64()
	if err != nil {
		return 0
	}
	return version
}

// Resolve is the read-through lookup used by the delivery path: cache first,
// database on miss or cache error, with a best-effort write-back. Database
// errors (including pgx.ErrNoRows) propagate unchanged.
func (c *SubscriptionCache) Resolve(ctx context.Context, id pgtype.UUID) (CachedSubscription, error) {
	rec, found, err := c.Get(ctx, id)
	if err != nil {
		log(ctx).Warn("Subscription cache unavailable, falling back to database", "error", err)
	} else if found {
		return rec, nil
	}

	sub, err := c.db.GetSubscription(ctx, id)
	if err != nil {
		return CachedSubscription{}, err
	}

	if err := c.Put(ctx, sub); err != nil {
		log(ctx).Warn("Failed to cache subscription", "error", err, "subscription_id", UuidToString(id))
	}
	return cachedFromRow(sub, time.Now().Unix()), nil
}

// StartListener runs the invalidation subscriber until ctx is cancelled. On
// any subscription error the listener backs off and reconnects, so a broker
// restart does not leave this process serving stale entries forever.
func (c *SubscriptionCache) StartListener(ctx context.Context) {
	go func() {
		for {
			if err := c.listen(ctx); err != nil {
				slog.Error("Cache invalidation listener stopped", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenerRestartDelay):
			}
		}
	}()
}

func (c *SubscriptionCache) listen(ctx context.Context) error {
	pubsub := c.rdb.Subscribe(ctx, InvalidationChannel)
	defer pubsub.Close()

	slog.Info("Cache invalidation listener started", "channel", InvalidationChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv InvalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				slog.Warn("Invalid cache invalidation message", "payload", msg.Payload)
				continue
			}
			if inv.Action != "invalidate" || inv.SubscriptionID == "" {
				continue
			}
			slog.Debug("Received cache invalidation", "subscription_id", inv.SubscriptionID)
			c.rdb.Del(ctx,
				subscriptionKeyPrefix+inv.SubscriptionID,
				subscriptionVersionKeyPrefix+inv.SubscriptionID,
			)
		}
	}
}
