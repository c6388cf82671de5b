// Package broadcast subscribes one API replica to the anomaly fanout
// exchange and hands decoded anomalies to the websocket hub.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ozanyurt/airgrid/internal/model"
)

type Config struct {
	URL          string
	Exchange     string
	DialTimeout  time.Duration
	Reconnect    time.Duration
	ReconnectMax time.Duration
}

// Hub receives anomalies fanned out to this replica.
type Hub interface {
	Broadcast(a model.Anomaly) int
}

var errStreamEnded = errors.New("broadcast: delivery stream ended")

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	hub    Hub
}

func New(cfg Config, logger *slog.Logger, hub Hub) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 10 * time.Second
	}
	return &Consumer{cfg: cfg, logger: logger, hub: hub}
}

// Start consumes the fanout exchange until ctx is canceled. Each connection
// gets a fresh broker-named exclusive queue, so replicas never steal each
// other's copies and a reconnect starts from live traffic.
func (c *Consumer) Start(ctx context.Context) error {
	if c.hub == nil {
		return errors.New("broadcast: missing hub")
	}

	c.logger.Info("broadcast consumer starting", "exchange", c.cfg.Exchange)

	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("broadcast consumer shutting down")
			return nil
		}

		delay := c.cfg.Reconnect
		if errors.Is(err, errStreamEnded) {
			delay = c.cfg.ReconnectMax
		}
		c.logger.Error("broadcast connection lost", "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(c.cfg.DialTimeout),
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", c.cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare fanout queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("subscribed to anomaly fanout", "exchange", c.cfg.Exchange, "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errStreamEnded
			}
			_ = c.ProcessOne(ctx, d)
		}
	}
}

// ProcessOne decodes one fanout delivery and hands it to the hub. Every
// delivery is acked, broken ones included: there is no point requeueing a
// message onto a queue only this replica reads.
func (c *Consumer) ProcessOne(_ context.Context, d amqp.Delivery) error {
	defer c.ack(d)

	var a model.Anomaly
	if err := json.Unmarshal(d.Body, &a); err != nil {
		c.logger.Error("dropping malformed broadcast", "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if a.ID == "" || a.Parameter == "" {
		c.logger.Error("dropping misshapen broadcast", "anomaly_id", a.ID, "parameter", a.Parameter)
		return errors.New("broadcast: missing id or parameter")
	}

	n := c.hub.Broadcast(a)
	c.logger.Debug("anomaly fanned out", "anomaly_id", a.ID, "subscribers", n)
	return nil
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "err", err)
	}
}
