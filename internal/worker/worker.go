// Package worker consumes raw readings from the broker, persists them and
// republishes detected anomalies to the broadcast exchange.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	obs "github.com/ozanyurt/airgrid/internal/core/observability"
	"github.com/ozanyurt/airgrid/internal/model"
)

type Config struct {
	URL          string
	Queue        string
	Prefetch     int
	DialTimeout  time.Duration
	Reconnect    time.Duration
	ReconnectMax time.Duration
}

type Store interface {
	WriteReading(ctx context.Context, r model.Reading) (bool, error)
	WriteAnomaly(ctx context.Context, a model.Anomaly) error
}

type Detector interface {
	Check(r model.Reading) *model.Anomaly
}

type Publisher interface {
	PublishBroadcast(ctx context.Context, v any) error
}

var errStreamEnded = errors.New("worker: delivery stream ended")

type Worker struct {
	cfg    Config
	logger *slog.Logger
	store  Store
	det    Detector
	pub    Publisher

	wg sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, store Store, det Detector, pub Publisher) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
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
	return &Worker{cfg: cfg, logger: logger, store: store, det: det, pub: pub}
}

// Start consumes the raw queue until ctx is canceled, reconnecting after
// connection loss. In-flight handlers are drained before it returns.
func (w *Worker) Start(ctx context.Context) error {
	if w.store == nil || w.det == nil {
		return errors.New("worker: missing dependencies (store/detector)")
	}

	w.logger.Info("raw queue worker starting",
		"queue", w.cfg.Queue, "prefetch", w.cfg.Prefetch)

	for {
		err := w.consumeOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info("raw queue worker shutting down")
			w.wg.Wait()
			return nil
		}

		delay := w.cfg.Reconnect
		if errors.Is(err, errStreamEnded) {
			delay = w.cfg.ReconnectMax
		}
		w.logger.Error("worker connection lost", "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil
		case <-time.After(delay):
		}
	}
}

func (w *Worker) consumeOnce(ctx context.Context) error {
	conn, err := amqp.DialConfig(w.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(w.cfg.DialTimeout),
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

	if _, err := ch.QueueDeclare(w.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", w.cfg.Queue, err)
	}
	if err := ch.Qos(w.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(w.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	w.logger.Info("consuming raw readings", "queue", w.cfg.Queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errStreamEnded
			}
			w.wg.Add(1)
			go func(d amqp.Delivery) {
				defer w.wg.Done()
				_ = w.ProcessOne(ctx, d)
			}(d)
		}
	}
}

// ProcessOne handles a single delivery. Exactly one Ack or Nack happens on
// every path; nacked messages are never requeued.
func (w *Worker) ProcessOne(ctx context.Context, d amqp.Delivery) error {
	if !d.Timestamp.IsZero() {
		if lag := time.Since(d.Timestamp); lag > 0 {
			obs.ObserveConsumeLag(lag.Seconds())
		}
	}

	var req model.IngestRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		obs.IncWorkerMessage("malformed")
		w.logger.Error("dropping malformed reading", "err", err)
		w.nack(d)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := req.Validate(); err != nil {
		obs.IncWorkerMessage("invalid")
		w.logger.Error("dropping invalid reading", "err", err)
		w.nack(d)
		return fmt.Errorf("validate: %w", err)
	}

	// Sender timestamps are ignored; the ingestion time is authoritative.
	reading := req.Reading(time.Now())

	stored, err := w.store.WriteReading(ctx, reading)
	if err != nil {
		obs.IncWorkerMessage("store_error")
		w.logger.Error("store write failed", "err", err)
		w.nack(d)
		return err
	}
	if !stored {
		obs.IncWorkerMessage("empty")
		w.ack(d)
		return nil
	}

	if a := w.check(reading); a != nil {
		obs.IncAnomalyDetected(a.Parameter)
		w.logger.Info("anomaly detected",
			"anomaly_id", a.ID, "parameter", a.Parameter, "value", a.Value)
		if err := w.store.WriteAnomaly(ctx, *a); err != nil {
			w.logger.Error("anomaly write failed", "anomaly_id", a.ID, "err", err)
		}
		if w.pub != nil {
			if err := w.pub.PublishBroadcast(ctx, a); err != nil {
				w.logger.Error("anomaly broadcast failed", "anomaly_id", a.ID, "err", err)
			}
		}
	}

	obs.IncWorkerMessage("persisted")
	w.ack(d)
	return nil
}

// check guards the detector: a panic during threshold evaluation must not
// take down the delivery loop or lose the ack.
func (w *Worker) check(r model.Reading) (a *model.Anomaly) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("anomaly detection panicked", "panic", p)
			a = nil
		}
	}()
	return w.det.Check(r)
}

func (w *Worker) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		w.logger.Error("ack failed", "err", err)
	}
}

func (w *Worker) nack(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		w.logger.Error("nack failed", "err", err)
	}
}
