package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	obs "github.com/ozanyurt/airgrid/internal/core/observability"
)

// ErrPublishFailed is returned once every attempt has been exhausted.
// Ingest maps it to 503.
var ErrPublishFailed = errors.New("broker: publish failed")

const (
	defaultPublishAttempts = 3
	defaultPublishBackoff  = 500 * time.Millisecond
	channelOpenTimeout     = 5 * time.Second
)

// Publisher sends JSON messages through pooled connections. Every publish
// opens a short-lived channel, declares its destination idempotently,
// publishes a persistent message and closes the channel again.
type Publisher struct {
	pool     *Pool
	queueRaw string
	exchange string
	logger   *slog.Logger

	attempts    int
	backoff     time.Duration
	chanTimeout time.Duration
}

func NewPublisher(pool *Pool, queueRaw, exchangeBroadcast string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		pool:        pool,
		queueRaw:    queueRaw,
		exchange:    exchangeBroadcast,
		logger:      logger,
		attempts:    defaultPublishAttempts,
		backoff:     defaultPublishBackoff,
		chanTimeout: channelOpenTimeout,
	}
}

// PublishRaw routes one message to the durable raw queue via the default
// exchange.
func (p *Publisher) PublishRaw(ctx context.Context, v any) error {
	return p.publish(ctx, destination{queue: p.queueRaw}, v)
}

// PublishBroadcast fans one message out to every queue bound to the durable
// broadcast exchange.
func (p *Publisher) PublishBroadcast(ctx context.Context, v any) error {
	return p.publish(ctx, destination{exchange: p.exchange}, v)
}

type destination struct {
	queue    string
	exchange string
}

func (d destination) name() string {
	if d.exchange != "" {
		return d.exchange
	}
	return d.queue
}

func (p *Publisher) publish(ctx context.Context, dst destination, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		// not retried: the payload will not get any better
		return fmt.Errorf("encode message for %q: %w", dst.name(), err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * p.backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrPublishFailed, ctx.Err())
			case <-time.After(wait):
			}
		}

		start := time.Now()
		err := p.attempt(ctx, dst, body)
		if err == nil {
			obs.ObserveUpstreamLatency("rabbit_publish", time.Since(start).Seconds())
			obs.IncPublish(dst.name(), "ok")
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrPoolClosed) {
			obs.IncPublish(dst.name(), "failed")
			return fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
		obs.IncPublish(dst.name(), "retry")
		p.logger.Warn("publish attempt failed",
			"destination", dst.name(), "attempt", attempt, "err", err)
	}

	obs.IncPublish(dst.name(), "failed")
	return fmt.Errorf("%w after %d attempts: %v", ErrPublishFailed, p.attempts, lastErr)
}

func (p *Publisher) attempt(ctx context.Context, dst destination, body []byte) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer p.pool.Release(conn)

	ch, err := p.openChannel(conn)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			p.logger.Debug("closing publish channel", "err", cerr)
		}
	}()

	if dst.exchange != "" {
		if err := ch.ExchangeDeclare(dst.exchange, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", dst.exchange, err)
		}
	} else {
		if _, err := ch.QueueDeclare(dst.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", dst.queue, err)
		}
	}

	err = ch.PublishWithContext(ctx, dst.exchange, dst.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", dst.name(), err)
	}
	return nil
}

// openChannel opens a channel with a watchdog so a wedged connection cannot
// stall a publish attempt indefinitely. On timeout the connection itself is
// closed: that unblocks the in-flight open, and Release then drops the
// connection instead of recycling it.
func (p *Publisher) openChannel(conn Connection) (Channel, error) {
	type result struct {
		ch  Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := conn.Channel()
		done <- result{ch: ch, err: err}
	}()

	timer := time.NewTimer(p.chanTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.ch, r.err
	case <-timer.C:
		_ = conn.Close()
		go func() {
			if r := <-done; r.ch != nil {
				_ = r.ch.Close()
			}
		}()
		return nil, fmt.Errorf("channel open timed out after %s", p.chanTimeout)
	}
}
