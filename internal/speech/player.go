package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Ticket reserves a position in the playback order.
type Ticket struct {
	epoch uint64
	seq   uint64
}

// Player plays clips strictly in ticket reservation order, whatever order
// synthesis finishes in. Stop discards everything queued and invalidates all
// outstanding tickets.
type Player struct {
	sink Sink
	log  *slog.Logger

	mu      sync.Mutex
	epoch   uint64
	nextSeq uint64
	playSeq uint64
	ready   map[uint64][]byte // nil value means skipped
	cancel  context.CancelFunc
	played  int
	closed  bool

	ctx    context.Context
	stop   context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
	idle   *sync.Cond
	active bool
}

// NewPlayer starts a Player writing to sink.
func NewPlayer(sink Sink, logger *slog.Logger) *Player {
	if sink == nil {
		panic("speech: player sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	p := &Player{
		sink:  sink,
		log:   logger.With("component", "player"),
		ready: make(map[uint64][]byte),
		ctx:   ctx,
		stop:  stop,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Reserve claims the next playback slot.
func (p *Player) Reserve() Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := Ticket{epoch: p.epoch, seq: p.nextSeq}
	p.nextSeq++
	return t
}

// Deliver attaches audio to a ticket. It reports false when the ticket was
// invalidated by Stop or the player is closed.
func (p *Player) Deliver(t Ticket, pcm []byte) bool {
	if pcm == nil {
		pcm = []byte{}
	}
	return p.fill(t, pcm)
}

// Skip releases a ticket without audio so later clips are not held back.
func (p *Player) Skip(t Ticket) bool {
	return p.fill(t, nil)
}

func (p *Player) fill(t Ticket, pcm []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || t.epoch != p.epoch || t.seq < p.playSeq {
		return false
	}
	if _, dup := p.ready[t.seq]; dup {
		return false
	}
	p.ready[t.seq] = pcm
	p.signal()
	return true
}

// Stop interrupts the clip being played, drops queued clips, and invalidates
// outstanding tickets.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch++
	p.nextSeq = 0
	p.playSeq = 0
	clear(p.ready)
	if p.cancel != nil {
		p.cancel()
	}
	p.idle.Broadcast()
}

// Pending returns the number of reserved tickets not yet played.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.nextSeq - p.playSeq)
}

// Played returns the number of clips handed to the sink.
func (p *Player) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

// Wait blocks until every reserved ticket has been played or skipped, the
// player is stopped or closed, or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.idle.Broadcast()
		p.mu.Unlock()
	})
	defer stopWatch()

	p.mu.Lock()
	defer p.mu.Unlock()
	epoch := p.epoch
	for p.playSeq < p.nextSeq || p.active {
		if p.closed || p.epoch != epoch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.idle.Wait()
	}
	return nil
}

// Close stops playback and waits for the playback goroutine to exit.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clear(p.ready)
	p.idle.Broadcast()
	p.mu.Unlock()

	p.stop()
	p.signal()
	<-p.done
	return nil
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		pcm, ok := p.ready[p.playSeq]
		if !ok {
			p.mu.Unlock()
			<-p.wake
			continue
		}
		delete(p.ready, p.playSeq)
		epoch := p.epoch
		ctx, cancel := context.WithCancel(p.ctx)
		p.cancel = cancel
		p.active = true
		p.mu.Unlock()

		if len(pcm) > 0 {
			if err := p.sink.Play(ctx, pcm); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("playback failed", "error", err, "bytes", len(pcm))
			}
		}
		cancel()

		p.mu.Lock()
		p.cancel = nil
		p.active = false
		if p.epoch == epoch {
			p.playSeq++
			if len(pcm) > 0 {
				p.played++
			}
		}
		p.idle.Broadcast()
		p.mu.Unlock()
	}
}
