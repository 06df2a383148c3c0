package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/observability"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrPipelineClosed = errors.New("rooms: pipeline closed")

// Item is one inbound message for a room.
type Item struct {
	ChatID   int64
	Log      carriage.ChatLog
	Packet   frame.Packet
	Received time.Time
}

// Handler processes one item. Errors and panics are logged and the room's
// queue moves on.
type Handler func(ctx context.Context, item Item) error

type PipelineConfig struct {
	QueueSize   int
	IdleTimeout time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueSize:   64,
		IdleTimeout: 2 * time.Minute,
	}
}

// Pipeline runs items for the same room in order on a dedicated worker.
// Rooms are independent of each other.
type Pipeline struct {
	cfg     PipelineConfig
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[int64]*roomWorker
	closed  bool
}

type roomWorker struct {
	chatID int64
	queue  chan Item
	// senders is guarded by Pipeline.mu; a worker with senders never retires.
	senders int
}

func NewPipeline(handler Handler, cfg PipelineConfig) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:     cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int64]*roomWorker),
	}
}

// Enqueue appends item to its room's queue, starting the worker on first
// use. It blocks while the queue is full.
func (p *Pipeline) Enqueue(ctx context.Context, item Item) error {
	if item.Received.IsZero() {
		item.Received = time.Now()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	w, ok := p.workers[item.ChatID]
	if !ok {
		w = &roomWorker{chatID: item.ChatID, queue: make(chan Item, p.cfg.QueueSize)}
		p.workers[item.ChatID] = w
		p.wg.Add(1)
		go p.run(w)
	}
	w.senders++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		w.senders--
		p.mu.Unlock()
	}()
	select {
	case w.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPipelineClosed
	}
}

// Active returns the number of live room workers.
func (p *Pipeline) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close stops every worker. Queued items that have not started are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) run(w *roomWorker) {
	defer p.wg.Done()
	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case item := <-w.queue:
			p.process(item)
			idle.Reset(p.cfg.IdleTimeout)
		case <-idle.C:
			if p.retire(w) {
				log.Debug().Msgf("rooms.Pipeline idle worker retired chat=%d", w.chatID)
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *Pipeline) retire(w *roomWorker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.senders > 0 || len(w.queue) > 0 {
		return false
	}
	delete(p.workers, w.chatID)
	return true
}

func (p *Pipeline) process(item Item) {
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			log.Error().Msgf("rooms.Pipeline handler panic chat=%d log=%d: %v", item.ChatID, item.Log.LogID, r)
		}
		observability.RecordRoomEvent(outcome)
	}()
	if err := p.handler(p.ctx, item); err != nil {
		outcome = "error"
		log.Warn().Msgf("rooms.Pipeline handler chat=%d log=%d err=%v", item.ChatID, item.Log.LogID, err)
	}
}
