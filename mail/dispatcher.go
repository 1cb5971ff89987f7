package mail

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DispatcherConfig controls the delivery queue.
type DispatcherConfig struct {
	BufferSize  int           `yaml:"buffer_size"`
	Workers     int           `yaml:"workers"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Dispatcher queues messages and delivers them from background workers.
// Enqueue never blocks: a full queue drops the message.
type Dispatcher struct {
	cfg       DispatcherConfig
	sender    Sender
	log       *zap.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	sent      atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers delivery goroutines. A nil logger is
// replaced with zap.NewNop.
func NewDispatcher(cfg DispatcherConfig, sender Sender, log *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if sender == nil {
		sender = LogSender{Log: log}
	}

	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		log:    log,
		ch:     make(chan Message, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := Deliver(ctx, d.sender, msg); err != nil {
		d.failed.Add(1)
		d.log.Warn("mail delivery failed",
			zap.Stringer("kind", msg.Kind),
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return
	}
	d.sent.Add(1)
}

// Enqueue hands msg to the workers and reports whether it was accepted.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	select {
	case d.ch <- msg:
		return true
	case <-d.done:
		return false
	default:
		d.dropped.Add(1)
		d.log.Warn("mail queue full, message dropped",
			zap.Stringer("kind", msg.Kind),
			zap.String("to", msg.To),
		)
		return false
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of messages rejected by a full queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of deliveries the Sender rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// Sent returns the number of successful deliveries.
func (d *Dispatcher) Sent() uint64 {
	if d == nil {
		return 0
	}
	return d.sent.Load()
}
