package board

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/types"
)

const indexFile = "boards.json"

// Store persists the latest snapshot per board id on the local filesystem.
// Snapshots live at <dir>/<id>.png and metadata in a single boards.json
// index. Writes go through a temp file and rename so a reader never sees a
// half-written snapshot.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu    sync.RWMutex // guards index
	index map[string]Meta

	lockMu sync.Mutex // guards locks
	locks  map[string]*sync.Mutex
}

type indexFileData struct {
	Boards []Meta `json:"boards"`
}

// NewStore opens (or creates) a store rooted at dir and loads the metadata
// index.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	s := &Store{
		dir:    dir,
		logger: logger.With().Str("component", "board-store").Logger(),
		index:  make(map[string]Meta),
		locks:  make(map[string]*sync.Mutex),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read index: %w", err)
	}
	var f indexFileData
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("store: parse index: %w", err)
	}
	for _, m := range f.Boards {
		s.index[m.ID] = m
	}
	return nil
}

// boardLock returns the per-board mutex so unrelated boards never serialize
// on each other's disk writes.
func (s *Store) boardLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.dir, id+".png")
}

// Get returns the persisted snapshot and metadata for a board, or
// ErrNotFound.
func (s *Store) Get(id string) (types.Snapshot, Meta, error) {
	if err := ValidateID(id); err != nil {
		return types.Snapshot{}, Meta{}, err
	}
	s.mu.RLock()
	meta, known := s.index[id]
	s.mu.RUnlock()

	data, err := os.ReadFile(s.snapshotPath(id))
	if os.IsNotExist(err) {
		return types.Snapshot{}, Meta{}, ErrNotFound
	}
	if err != nil {
		return types.Snapshot{}, Meta{}, fmt.Errorf("store: read snapshot %s: %w", id, err)
	}
	if !known {
		// Snapshot on disk without index entry (index lost or written by an
		// older process): synthesize minimal metadata.
		meta = Meta{ID: id, Name: defaultName(id), ContentType: "image/png"}
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	return types.Snapshot{ContentType: contentType, Data: data}, meta, nil
}

// GetMeta returns metadata only, without touching the snapshot file.
func (s *Store) GetMeta(id string) (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.index[id]
	if !ok {
		return Meta{}, ErrNotFound
	}
	return meta, nil
}

// Put overwrites the snapshot for a board and updates its metadata. The
// board is created if the id is new; UpdatedAt is stamped on every call and
// CreatedAt is preserved for existing boards.
func (s *Store) Put(id string, snap types.Snapshot, meta Meta) (Meta, error) {
	if err := ValidateID(id); err != nil {
		return Meta{}, err
	}
	l := s.boardLock(id)
	l.Lock()
	defer l.Unlock()

	if err := s.writeAtomic(s.snapshotPath(id), snap.Data); err != nil {
		return Meta{}, fmt.Errorf("store: write snapshot %s: %w", id, err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	existing, ok := s.index[id]
	if ok {
		meta.CreatedAt = existing.CreatedAt
		if meta.Name == "" {
			meta.Name = existing.Name
		}
		if meta.Width == 0 {
			meta.Width, meta.Height = existing.Width, existing.Height
		}
	} else {
		meta.CreatedAt = now
	}
	meta.ID = id
	meta.UpdatedAt = now
	if meta.Name == "" {
		meta.Name = defaultName(id)
	}
	if meta.ContentType == "" {
		meta.ContentType = snap.ContentType
	}
	s.index[id] = meta
	err := s.flushIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Rename updates a board's display name.
func (s *Store) Rename(id, name string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.index[id]
	if !ok {
		return Meta{}, ErrNotFound
	}
	meta.Name = name
	meta.UpdatedAt = time.Now().UTC()
	s.index[id] = meta
	if err := s.flushIndexLocked(); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Delete removes both the persisted snapshot and the metadata entry.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	l := s.boardLock(id)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(s.snapshotPath(id))
	missingFile := os.IsNotExist(err)
	if err != nil && !missingFile {
		return fmt.Errorf("store: delete snapshot %s: %w", id, err)
	}

	s.mu.Lock()
	_, known := s.index[id]
	delete(s.index, id)
	flushErr := s.flushIndexLocked()
	s.mu.Unlock()
	if flushErr != nil {
		return flushErr
	}
	if missingFile && !known {
		return ErrNotFound
	}
	return nil
}

// List returns metadata for every persisted board, newest update first.
func (s *Store) List() []Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Meta, 0, len(s.index))
	for _, m := range s.index {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// flushIndexLocked writes boards.json atomically. Callers hold s.mu.
func (s *Store) flushIndexLocked() error {
	f := indexFileData{Boards: make([]Meta, 0, len(s.index))}
	for _, m := range s.index {
		f.Boards = append(f.Boards, m)
	}
	sort.Slice(f.Boards, func(i, j int) bool { return f.Boards[i].ID < f.Boards[j].ID })
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode index: %w", err)
	}
	if err := s.writeAtomic(filepath.Join(s.dir, indexFile), data); err != nil {
		return fmt.Errorf("store: write index: %w", err)
	}
	return nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func defaultName(id string) string {
	short := id
	if len(short) > 6 {
		short = short[:6]
	}
	return "Board " + short
}
