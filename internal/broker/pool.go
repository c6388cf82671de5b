// Package broker manages pooled RabbitMQ connections and the two publish
// paths of the pipeline: the durable raw-readings queue and the fanout
// exchange that carries anomaly broadcasts to every API replica.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrPoolClosed     = errors.New("broker: pool closed")
	ErrAcquireTimeout = errors.New("broker: timed out waiting for a pooled connection")
)

// Channel is the slice of *amqp.Channel a publish needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is the slice of *amqp.Connection the pool manages.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// DialFunc creates one broker connection.
type DialFunc func() (Connection, error)

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial returns a DialFunc for the given AMQP URL. The timeout bounds the
// initial TCP connect and protocol handshake.
func Dial(url string, timeout time.Duration) DialFunc {
	return func() (Connection, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
		if err != nil {
			return nil, err
		}
		return amqpConn{conn}, nil
	}
}

// Pool is a bounded LIFO pool of broker connections. Acquire prefers the
// most recently released connection, dials a fresh one while the pool is
// under capacity, and otherwise waits for a release. Connections observed
// closed are discarded and transparently replaced. Release hands the
// connection to a waiter when one exists, otherwise returns it to the idle
// stack.
type Pool struct {
	dial           DialFunc
	capacity       int
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	idle    []Connection
	waiters []chan Connection
	held    int // connections currently checked out
	closed  bool
}

func NewPool(dial DialFunc, capacity int, acquireTimeout time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		dial:           dial,
		capacity:       capacity,
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// Init eagerly fills the pool up to capacity. Dial failures are logged and
// tolerated; the pool simply starts smaller and Acquire dials replacements
// on demand.
func (p *Pool) Init() {
	conns := make([]Connection, p.capacity)
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.dial()
			if err != nil {
				p.logger.Error("broker connection failed during pool init", "err", err)
				return
			}
			conns[i] = c
		}(i)
	}
	wg.Wait()

	var extra []Connection
	p.mu.Lock()
	for _, c := range conns {
		if c == nil {
			continue
		}
		if p.closed || len(p.idle) >= p.capacity {
			extra = append(extra, c)
			continue
		}
		p.idle = append(p.idle, c)
	}
	n := len(p.idle)
	p.mu.Unlock()

	for _, c := range extra {
		_ = c.Close()
	}
	p.logger.Info("broker pool initialized", "connections", n, "capacity", p.capacity)
}

// Acquire pops the most recently released connection. With nothing idle it
// dials a fresh connection while the pool is under capacity, and otherwise
// waits up to the acquire timeout for a release. A connection observed
// closed is discarded and replaced with a fresh dial.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.held++
		p.mu.Unlock()
		return p.ensureOpen(c)
	}
	if p.held < p.capacity {
		p.held++
		p.mu.Unlock()
		c, err := p.dial()
		if err != nil {
			p.forget()
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		return c, nil
	}
	w := make(chan Connection, 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case c, ok := <-w:
		if !ok {
			return nil, ErrPoolClosed
		}
		return p.ensureOpen(c)
	case <-ctx.Done():
		p.removeWaiter(w)
		p.drainLate(w)
		return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
	case <-timer.C:
		p.removeWaiter(w)
		p.drainLate(w)
		return nil, ErrAcquireTimeout
	}
}

// Release returns a connection after use. Closed connections are dropped
// (a later Acquire dials the replacement), waiters are served first, and
// overflow beyond capacity is closed.
func (p *Pool) Release(c Connection) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if p.held > 0 {
		p.held--
	}
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	if c.IsClosed() {
		p.mu.Unlock()
		p.logger.Debug("connection closed during use, not returning to pool")
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.held++ // stays checked out, now by the waiter
		p.mu.Unlock()
		w <- c
		return
	}
	if len(p.idle) >= p.capacity {
		p.mu.Unlock()
		p.logger.Warn("pool full on release, closing connection")
		_ = c.Close()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Close drains the pool, concurrently closing every idle connection.
// Blocked Acquire calls observe the shutdown and fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	var wg sync.WaitGroup
	for _, c := range idle {
		wg.Add(1)
		go func(c Connection) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				p.logger.Error("closing pooled connection", "err", err)
			}
		}(c)
	}
	wg.Wait()

	p.logger.Info("broker pool closed", "connections", len(idle))
}

// Idle reports the number of idle pooled connections.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Ping verifies that a broker connection can be acquired. Acquire replaces
// closed connections, so a success means the broker is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	p.Release(c)
	return nil
}

func (p *Pool) ensureOpen(c Connection) (Connection, error) {
	if !c.IsClosed() {
		return c, nil
	}
	p.logger.Warn("acquired a closed connection from pool, dialing replacement")
	fresh, err := p.dial()
	if err != nil {
		p.forget()
		return nil, fmt.Errorf("replace closed connection: %w", err)
	}
	return fresh, nil
}

// forget releases a checked-out slot whose connection is gone.
func (p *Pool) forget() {
	p.mu.Lock()
	if p.held > 0 {
		p.held--
	}
	p.mu.Unlock()
}

func (p *Pool) removeWaiter(w chan Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// drainLate recycles a connection that a racing Release handed to w after
// the waiter already gave up.
func (p *Pool) drainLate(w chan Connection) {
	select {
	case c, ok := <-w:
		if ok {
			p.Release(c)
		}
	default:
	}
}
