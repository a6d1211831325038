package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

const (
	DefaultRedisPrefix = "cs108"
	DefaultRedisTTL    = 5 * time.Minute
)

// Store is the part of *redis.Client the presence sink uses.
type Store interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisOptions configures a Presence sink.
type RedisOptions struct {
	Addr   string
	DB     int
	Prefix string
	// TTL is how long a tag stays present after its last sighting.
	TTL time.Duration
	// Timeout bounds the commands issued for one batch.
	Timeout time.Duration
	Clock   func() time.Time
}

// Presence keeps the reader's latest state in Redis:
//
//	<prefix>:tag:<epc>     hash  rssi, antenna, kind, last_seen (unix ms), expires after TTL
//	<prefix>:reader        hash  battery_mv, battery_pct, trigger, ts
//	<prefix>:barcode:last  string
type Presence struct {
	store   Store
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	clock   func() time.Time
	logger  *logrus.Logger
}

// DialRedis connects to the server at opts.Addr and checks it answers.
func DialRedis(opts RedisOptions, logger *logrus.Logger) (*Presence, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	p := NewPresence(client, opts, logger)
	p.client = client
	logger.WithFields(logrus.Fields{
		"addr":   opts.Addr,
		"prefix": p.prefix,
	}).Info("Connected to Redis")
	return p, nil
}

func NewPresence(store Store, opts RedisOptions, logger *logrus.Logger) *Presence {
	if logger == nil {
		logger = logrus.New()
	}
	prefix := strings.Trim(opts.Prefix, ":")
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Presence{
		store:   store,
		prefix:  prefix,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  logger,
	}
}

func (p *Presence) TagKey(epc string) string {
	return p.prefix + ":tag:" + epc
}

func (p *Presence) ReaderKey() string {
	return p.prefix + ":reader"
}

func (p *Presence) BarcodeKey() string {
	return p.prefix + ":barcode:last"
}

// Write records the state carried by each event. Command responses and
// unknown events are not stored.
func (p *Presence) Write(events []cs108.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	now := p.clock().UnixMilli()
	var errs []error
	for _, ev := range events {
		if err := p.write(ctx, ev, now); err != nil {
			p.logger.WithError(err).WithField("kind", ev.Kind()).Debug("Redis write failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Presence) write(ctx context.Context, ev cs108.Event, now int64) error {
	switch e := ev.(type) {
	case cs108.InventoryTagRead:
		return p.touchTag(ctx, e.EPC, e.RSSI, e.Antenna, e.Kind(), now)
	case cs108.LocateUpdate:
		return p.touchTag(ctx, e.EPC, e.RSSI, e.Antenna, e.Kind(), now)
	case cs108.BatteryStatus:
		return p.store.HSet(ctx, p.ReaderKey(),
			"battery_mv", e.Millivolts,
			"battery_pct", e.Percent,
			"ts", now,
		).Err()
	case cs108.TriggerState:
		state := "released"
		if e.Pressed {
			state = "pressed"
		}
		return p.store.HSet(ctx, p.ReaderKey(), "trigger", state, "ts", now).Err()
	case cs108.BarcodeScan:
		return p.store.Set(ctx, p.BarcodeKey(), e.Value, 0).Err()
	default:
		return nil
	}
}

func (p *Presence) touchTag(ctx context.Context, epc string, rssi float64, antenna int, kind cs108.Kind, now int64) error {
	if epc == "" {
		return nil
	}
	key := p.TagKey(epc)
	err := p.store.HSet(ctx, key,
		"rssi", rssi,
		"antenna", antenna,
		"kind", kind.String(),
		"last_seen", now,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	if err := p.store.Expire(ctx, key, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set expiry on %s: %w", key, err)
	}
	return nil
}

// Close closes the client when the sink owns it.
func (p *Presence) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
