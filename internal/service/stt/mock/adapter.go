// Package mock provides a mock STT adapter for running the relay without
// cloud credentials. It acknowledges configuration, emits progressive
// transcription deltas as audio arrives and one completed transcription per
// simulated utterance. Commit flushes the current utterance and finishes the
// session.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"meetmind-asr-relay/internal/fields"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/upstream"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive partial transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"今天", "今天我们", "今天我们学习"},
		Final:    "今天我们学习二次函数",
	},
	{
		Partials: []string{"二次函数", "二次函数的图像"},
		Final:    "二次函数的图像是一条抛物线",
	},
	{
		Partials: []string{"Open your", "Open your books"},
		Final:    "Open your books to page twelve",
	},
}

var errQueueFull = errors.New("mock event queue full")

// Config controls the simulation.
type Config struct {
	Delay      time.Duration
	Utterances []SimulatedUtterance
}

// DefaultConfig returns a short per-event delay and the default utterances.
func DefaultConfig() Config {
	return Config{
		Delay:      50 * time.Millisecond,
		Utterances: DefaultUtterances,
	}
}

type item struct {
	ev  upstream.Event
	end bool
}

// Adapter implements stt.Adapter with simulated responses. Events are
// delivered in order from a single goroutine.
type Adapter struct {
	cfg Config

	mu           sync.Mutex
	cb           stt.Callback
	queue        chan item
	done         chan struct{}
	closed       bool
	committed    bool
	current      int
	partialIndex int

	reportOnce sync.Once
}

// New creates a mock adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	return &Adapter{
		cfg:   cfg,
		queue: make(chan item, 256),
		done:  make(chan struct{}),
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return "mock"
}

// Dial succeeds immediately unless ctx is already done or the adapter is
// closed.
func (a *Adapter) Dial(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return stt.ErrAdapterClosed
	}
	return ctx.Err()
}

// Start acknowledges the configuration after the simulated delay.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrAdapterClosed
	}
	a.cb = cb
	go a.deliver()
	return a.enqueue(event(upstream.TypeSessionUpdated, nil))
}

// SendAudio emits the next partial of the current utterance, or its final
// once all partials have been sent.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrAdapterClosed
	}
	if a.committed {
		return nil
	}

	utt := a.cfg.Utterances[a.current%len(a.cfg.Utterances)]
	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		return a.enqueue(event(upstream.TypeTranscriptionDelta, fields.Object{"text": text}))
	}
	return a.completeLocked()
}

// Commit finalizes any utterance in progress, then finishes the session.
func (a *Adapter) Commit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrAdapterClosed
	}
	if a.committed {
		return nil
	}
	a.committed = true

	if a.partialIndex > 0 {
		if err := a.completeLocked(); err != nil {
			return err
		}
	}
	if err := a.enqueue(event(upstream.TypeSessionFinished, nil)); err != nil {
		return err
	}
	return a.enqueueItem(item{end: true})
}

// Close stops delivery. Pending events are dropped.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)
	return nil
}

func (a *Adapter) completeLocked() error {
	utt := a.cfg.Utterances[a.current%len(a.cfg.Utterances)]
	a.current++
	a.partialIndex = 0
	return a.enqueue(event(upstream.TypeTranscriptionCompleted, fields.Object{"transcript": utt.Final}))
}

func (a *Adapter) enqueue(ev upstream.Event) error {
	return a.enqueueItem(item{ev: ev})
}

func (a *Adapter) enqueueItem(it item) error {
	select {
	case a.queue <- it:
		return nil
	default:
		return errQueueFull
	}
}

func (a *Adapter) deliver() {
	for {
		select {
		case <-a.done:
			a.report()
			return
		case it := <-a.queue:
			if a.cfg.Delay > 0 {
				timer := time.NewTimer(a.cfg.Delay)
				select {
				case <-a.done:
					timer.Stop()
					a.report()
					return
				case <-timer.C:
				}
			}
			if it.end {
				a.report()
				return
			}
			a.cb.OnEvent(it.ev)
		}
	}
}

func (a *Adapter) report() {
	a.reportOnce.Do(func() {
		a.cb.OnClosed(stt.CloseNormal, nil)
	})
}

func event(typ string, obj fields.Object) upstream.Event {
	if obj == nil {
		obj = fields.Object{}
	}
	obj["type"] = typ
	return upstream.New(typ, obj)
}
