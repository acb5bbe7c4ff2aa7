package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/board"
	"github.com/drawspace/relay/src/types"
)

type persistJob struct {
	snap types.Snapshot
	meta board.Meta
}

// persister serializes snapshot writes per board. At most one writer
// goroutine runs per board, and a burst of updates coalesces to the latest
// pending snapshot, so the store always converges to the newest frame
// instead of whichever write happened to win the disk.
type persister struct {
	store  *board.Store
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]persistJob
	running map[string]bool
}

func newPersister(store *board.Store, logger zerolog.Logger) *persister {
	return &persister{
		store:   store,
		logger:  logger,
		pending: make(map[string]persistJob),
		running: make(map[string]bool),
	}
}

// enqueue records the snapshot as the board's pending write, replacing any
// older pending one, and starts the board's writer if none is running.
func (p *persister) enqueue(boardID string, snap types.Snapshot, meta board.Meta) {
	p.mu.Lock()
	p.pending[boardID] = persistJob{snap: snap, meta: meta}
	if p.running[boardID] {
		p.mu.Unlock()
		return
	}
	p.running[boardID] = true
	p.mu.Unlock()

	go p.drain(boardID)
}

func (p *persister) drain(boardID string) {
	for {
		p.mu.Lock()
		job, ok := p.pending[boardID]
		if !ok {
			delete(p.running, boardID)
			p.mu.Unlock()
			return
		}
		delete(p.pending, boardID)
		p.mu.Unlock()

		if _, err := p.store.Put(boardID, job.snap, job.meta); err != nil {
			p.logger.Error().Err(err).Str("board_id", boardID).Msg("async persist failed")
		}
	}
}
