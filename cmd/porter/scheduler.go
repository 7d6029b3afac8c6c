package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pmgate/pmgate/platform"
)

// Scheduler fans update processing out over a fixed number of workers while
// keeping updates for the same peer in order: a peer with a task in flight
// has later tasks queued behind it, and unrelated peers never wait.
type Scheduler struct {
	maxConcurrency int

	do func(context.Context, *platform.Update) error

	feeder chan *consumerTask
	out    chan struct{}

	lk     sync.Mutex
	active map[int64][]*consumerTask

	log *slog.Logger
}

type consumerTask struct {
	peer    int64
	val     *platform.Update
	control string
}

func NewScheduler(maxC int, do func(context.Context, *platform.Update) error) *Scheduler {
	p := &Scheduler{
		maxConcurrency: maxC,

		do: do,

		feeder: make(chan *consumerTask),
		active: make(map[int64][]*consumerTask),
		out:    make(chan struct{}),

		log: slog.Default().With("system", "scheduler"),
	}

	for i := 0; i < maxC; i++ {
		go p.worker()
	}

	workersActive.Set(float64(maxC))

	return p
}

func (p *Scheduler) Shutdown() {
	p.log.Info("shutting down scheduler")

	for i := 0; i < p.maxConcurrency; i++ {
		p.feeder <- &consumerTask{
			control: "stop",
		}
	}

	close(p.feeder)

	for i := 0; i < p.maxConcurrency; i++ {
		<-p.out
	}

	workersActive.Set(0)
	p.log.Info("scheduler shutdown complete")
}

func (p *Scheduler) AddWork(ctx context.Context, peer int64, val *platform.Update) error {
	workItemsAdded.Inc()
	t := &consumerTask{
		peer: peer,
		val:  val,
	}
	p.lk.Lock()

	a, ok := p.active[peer]
	if ok {
		p.active[peer] = append(a, t)
		p.lk.Unlock()
		return nil
	}

	p.active[peer] = []*consumerTask{}
	p.lk.Unlock()

	select {
	case p.feeder <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Scheduler) worker() {
	for work := range p.feeder {
		for work != nil {
			if work.control == "stop" {
				p.out <- struct{}{}
				return
			}

			if err := p.do(context.TODO(), work.val); err != nil {
				p.log.Error("update handler failed", "err", err)
			}
			workItemsProcessed.Inc()

			p.lk.Lock()
			rem, ok := p.active[work.peer]
			if !ok {
				p.log.Error("should always have an 'active' entry if a worker is processing a job")
			}

			if len(rem) == 0 {
				delete(p.active, work.peer)
				work = nil
			} else {
				work = rem[0]
				p.active[work.peer] = rem[1:]
			}
			p.lk.Unlock()
		}
	}
}
