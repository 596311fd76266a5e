package events

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"

    "commsplan/internal/logging"
)

// Redis implements Broker over Redis Pub/Sub so every API replica sees
// events published by any other.
type Redis struct {
    rdb    *redis.Client
    log    logging.Logger
    prefix string

    mu   sync.Mutex
    subs map[chan Event]*redis.PubSub
}

func NewRedis(url string, log logging.Logger) (*Redis, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    if log == nil { log = logging.Noop() }
    return NewRedisClient(redis.NewClient(opt), log), nil
}

func NewRedisClient(rdb *redis.Client, log logging.Logger) *Redis {
    return &Redis{rdb: rdb, log: log, prefix: "commsplan:", subs: map[chan Event]*redis.PubSub{}}
}

// Ping checks connectivity.
func (b *Redis) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *Redis) Close() error { return b.rdb.Close() }

func (b *Redis) Subscribe(topic string) chan Event {
    ch := make(chan Event, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.prefix+topic)
    // wait for the subscription confirmation so events published right after
    // Subscribe returns are not lost
    if _, err := ps.Receive(ctx); err != nil {
        b.log.Warn(ctx, "redis subscribe failed", logging.String("topic", topic), logging.Err(err))
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer func() {
            b.mu.Lock()
            if _, ok := b.subs[ch]; ok {
                delete(b.subs, ch)
                close(ch)
            }
            b.mu.Unlock()
        }()
        for msg := range ps.Channel() {
            var evt Event
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
                continue
            }
            b.mu.Lock()
            if _, ok := b.subs[ch]; ok {
                select { case ch <- evt: default: }
            }
            b.mu.Unlock()
        }
    }()
    return ch
}

func (b *Redis) Unsubscribe(topic string, ch chan Event) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    if ok {
        delete(b.subs, ch)
        close(ch)
    }
    b.mu.Unlock()
    if ok { _ = ps.Close() }
}

func (b *Redis) Publish(topic string, evt Event) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil {
        b.log.Error(ctx, "encode event failed", logging.String("topic", topic), logging.Err(err))
        return
    }
    if err := b.rdb.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
        b.log.Warn(ctx, "redis publish failed", logging.String("topic", topic), logging.Err(err))
    }
}
