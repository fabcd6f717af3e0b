package goIdentity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goIdentity/model"
	"github.com/MrEthical07/goIdentity/storage"
)

// persister writes the latest snapshot to SecureStorage on its own
// goroutine. Only the newest pending write is kept; a snapshot superseded
// before it was written is skipped.
type persister struct {
	storage storage.SecureStorage
	cfg     StorageConfig
	logger  *slog.Logger
	inc     func(MetricID)

	mu      sync.Mutex
	pending *persistJob
	closed  bool

	wake chan struct{}
	done chan struct{}
}

type persistJob struct {
	client *model.Client
	delete bool
}

func newPersister(s storage.SecureStorage, cfg StorageConfig, logger *slog.Logger, inc func(MetricID)) *persister {
	p := &persister{
		storage: s,
		cfg:     cfg,
		logger:  logger,
		inc:     inc,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) save(c *model.Client) {
	p.enqueue(&persistJob{client: c})
}

func (p *persister) remove() {
	p.enqueue(&persistJob{delete: true})
}

func (p *persister) enqueue(job *persistJob) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.pending != nil {
		p.inc(MetricSnapshotPersistCoalesced)
	}
	p.pending = job
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) take() (*persistJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job := p.pending
	p.pending = nil
	return job, p.closed
}

func (p *persister) run() {
	defer close(p.done)
	for range p.wake {
		for {
			job, closed := p.take()
			if job != nil {
				p.write(job)
			}
			if closed {
				return
			}
			if job == nil {
				break
			}
		}
	}
}

func (p *persister) write(job *persistJob) {
	ctx := context.Background()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	if job.delete {
		if err := p.storage.Delete(ctx, p.cfg.Key); err != nil {
			p.inc(MetricSnapshotPersistFailure)
			p.logger.Warn("snapshot delete failed", "key", p.cfg.Key, "error", err)
		}
		return
	}

	data, err := storage.EncodeSnapshot(job.client)
	if err != nil {
		p.inc(MetricSnapshotPersistFailure)
		p.logger.Warn("snapshot encode failed", "error", err)
		return
	}
	err = p.storage.Save(ctx, p.cfg.Key, job.client.UpdatedAt.UnixNano(), data)
	if errors.Is(err, storage.ErrStale) {
		return
	}
	if err != nil {
		p.inc(MetricSnapshotPersistFailure)
		p.logger.Warn("snapshot persist failed", "key", p.cfg.Key, "error", err)
	}
}

// close flushes the pending write and stops the worker.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	<-p.done
}
