// Package realtime carries question events over Redis pub/sub. Each topic is
// a Redis channel; joining a topic subscribes to it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/pkg/models"
)

var ErrChannelClosed = errors.New("realtime channel closed")

const defaultBuffer = 64

// RedisChannel is one subscriber connection. Open it per feed session and
// Close it when the session ends.
type RedisChannel struct {
	ps     *redis.PubSub
	events chan models.QuestionEvent
	logger *slog.Logger
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
	once    sync.Once
}

type ChannelOption func(*RedisChannel)

func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *RedisChannel) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithBuffer(n int) ChannelOption {
	return func(c *RedisChannel) {
		if n > 0 {
			c.events = make(chan models.QuestionEvent, n)
		}
	}
}

// Open creates a subscriber with no topics. The connection is established on
// the first Join.
func Open(ctx context.Context, client redis.UniversalClient, opts ...ChannelOption) (*RedisChannel, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	c := &RedisChannel{
		ps:     client.Subscribe(ctx),
		events: make(chan models.QuestionEvent, defaultBuffer),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Join subscribes to topic. Joining a topic twice is harmless.
func (c *RedisChannel) Join(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := c.ps.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if !c.started {
		c.started = true
		c.wg.Add(1)
		go c.pump(c.ps.Channel())
	}
	return nil
}

// Leave unsubscribes from topic.
func (c *RedisChannel) Leave(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if err := c.ps.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// Events yields decoded events. It is closed by Close.
func (c *RedisChannel) Events() <-chan models.QuestionEvent {
	return c.events
}

func (c *RedisChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		close(c.done)
		err = c.ps.Close()
		c.wg.Wait()
		if !started {
			close(c.events)
		}
	})
	return err
}

func (c *RedisChannel) pump(msgs <-chan *redis.Message) {
	defer c.wg.Done()
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := Decode(context.Background(), msg.Channel, []byte(msg.Payload))
			if err != nil {
				c.logger.Warn("dropping realtime message", "topic", msg.Channel, "err", err)
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// Publisher broadcasts question events to every topic a question belongs to.
type Publisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewPublisher(client redis.UniversalClient, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish sends the event on the question's topics plus extraTopics and
// returns how many topics were published to. Updates pass the previous
// version's topics as extraTopics so that subscribers who no longer match
// still hear about the change.
func (p *Publisher) Publish(ctx context.Context, event models.EventType, q models.Question, extraTopics ...string) (int, error) {
	payload, err := Encode(event, q)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	topics := slices.Concat(match.QuestionTopics(q), extraTopics)
	slices.Sort(topics)
	topics = slices.Compact(topics)

	for i, t := range topics {
		if err := p.client.Publish(ctx, t, payload).Err(); err != nil {
			return i, fmt.Errorf("publish %s on %s: %w", event, t, err)
		}
	}
	p.logger.Debug("published question event", "event", event, "question_id", q.ID, "topics", len(topics))
	return len(topics), nil
}
