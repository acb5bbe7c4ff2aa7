// Package relay implements the board sync protocol on top of the hub: what
// to send on join, what to cache, persist, and broadcast on update, and how
// deletions and renames fan out.
package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/drawspace/relay/src/board"
	"github.com/drawspace/relay/src/hub"
	"github.com/drawspace/relay/src/types"
)

// Service wires the hub, the room cache, and the board store together.
type Service struct {
	hub     *hub.Hub
	cache   *board.Cache
	store   *board.Store
	persist *persister
	logger  zerolog.Logger
}

// New creates the sync service and registers its message handlers on the hub.
func New(h *hub.Hub, cache *board.Cache, store *board.Store, logger zerolog.Logger) *Service {
	componentLogger := logger.With().Str("component", "relay").Logger()
	s := &Service{
		hub:     h,
		cache:   cache,
		store:   store,
		persist: newPersister(store, componentLogger),
		logger:  componentLogger,
	}
	h.RegisterHandler(types.MethodJoin, s.handleJoin)
	h.RegisterHandler(types.MethodCanvasUpdate, s.handleCanvasUpdate)
	h.RegisterHandler(types.MethodStateRequest, s.handleStateRequest)
	h.RegisterHandler(types.MethodPing, s.handlePing)
	h.RegisterHandler(types.MethodPong, func(string, types.Message) error { return nil })
	h.RegisterHandler(types.MethodBoardDeleted, s.handleBoardDeleted)
	h.RegisterHandler(types.MethodBoardRenamed, s.handleBoardRenamed)
	return s
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// handleJoin admits the connection into the board's room and bootstraps it:
// cached or persisted state always wins when present; only when both miss is
// the newcomer asked to publish its own state and become the source of truth.
func (s *Service) handleJoin(clientID string, msg types.Message) error {
	if err := board.ValidateID(msg.BoardID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := s.hub.Join(msg.BoardID, clientID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	s.logger.Info().Str("client_id", clientID).Str("board_id", msg.BoardID).Msg("joined board")

	snap, meta, err := s.currentState(msg.BoardID)
	if err != nil {
		if !errors.Is(err, board.ErrNotFound) {
			// Persistence failure: the cache stays the source of truth for
			// this process, and the newcomer is asked to publish.
			s.logger.Error().Err(err).Str("board_id", msg.BoardID).Msg("state load failed")
		}
		s.hub.SendToClient(clientID, types.Message{
			Method:    types.MethodStateRequest,
			BoardID:   msg.BoardID,
			Timestamp: time.Now(),
		})
		return nil
	}

	s.hub.SendToClient(clientID, types.Message{
		Method:    types.MethodCanvasUpdate,
		BoardID:   msg.BoardID,
		Name:      meta.Name,
		ImageData: snap.DataURL(),
		Width:     meta.Width,
		Height:    meta.Height,
		Timestamp: time.Now(),
	})
	return nil
}

// currentState serves the cache first and falls back to the store, warming
// the cache on a disk hit.
func (s *Service) currentState(boardID string) (types.Snapshot, board.Meta, error) {
	if snap, ok := s.cache.GetCached(boardID); ok {
		meta, err := s.store.GetMeta(boardID)
		if err != nil {
			meta = board.Meta{ID: boardID}
		}
		return snap, meta, nil
	}
	snap, meta, err := s.store.Get(boardID)
	if err != nil {
		return types.Snapshot{}, board.Meta{}, err
	}
	s.cache.SetCached(boardID, snap)
	return snap, meta, nil
}

// handleCanvasUpdate accepts a whole-frame replacement snapshot: cache it,
// persist it off the hot path, and fan it out to the rest of the room.
func (s *Service) handleCanvasUpdate(clientID string, msg types.Message) error {
	roomID := s.hub.RoomOf(clientID)
	if roomID == "" {
		return fmt.Errorf("canvas update from %s before join", clientID)
	}
	if msg.BoardID != "" && msg.BoardID != roomID {
		return fmt.Errorf("canvas update for %s on a connection joined to %s", msg.BoardID, roomID)
	}
	snap, err := types.ParseDataURL(msg.ImageData)
	if err != nil {
		return fmt.Errorf("canvas update: %w", err)
	}

	s.cache.SetCached(roomID, snap)
	s.persistAsync(roomID, snap, board.Meta{Name: msg.Name, Width: msg.Width, Height: msg.Height})

	msg.BoardID = roomID
	s.hub.Publish(roomID, clientID, msg)
	return nil
}

// persistAsync hands the snapshot to the board's single writer, off the
// connection's receive loop. Writes for one board are serialized and
// coalesced so disk converges to the latest frame; errors are logged and
// swallowed, the cache keeps serving the board for the lifetime of the
// process.
func (s *Service) persistAsync(boardID string, snap types.Snapshot, meta board.Meta) {
	s.persist.enqueue(boardID, snap, meta)
}

// handleStateRequest re-sends the current snapshot to the requester. When
// nothing is cached or persisted, the request is forwarded to the rest of
// the room so any member that has state publishes it.
func (s *Service) handleStateRequest(clientID string, msg types.Message) error {
	roomID := s.hub.RoomOf(clientID)
	if roomID == "" {
		return fmt.Errorf("state request from %s before join", clientID)
	}

	snap, meta, err := s.currentState(roomID)
	if err != nil {
		s.hub.Publish(roomID, clientID, types.Message{
			Method:    types.MethodStateRequest,
			BoardID:   roomID,
			Timestamp: time.Now(),
		})
		return nil
	}
	s.hub.SendToClient(clientID, types.Message{
		Method:    types.MethodCanvasUpdate,
		BoardID:   roomID,
		Name:      meta.Name,
		ImageData: snap.DataURL(),
		Width:     meta.Width,
		Height:    meta.Height,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *Service) handlePing(clientID string, _ types.Message) error {
	// Liveness was already reset by the read pump; just answer.
	s.hub.SendToClient(clientID, types.Message{Method: types.MethodPong, Timestamp: time.Now()})
	return nil
}

func (s *Service) handleBoardDeleted(clientID string, msg types.Message) error {
	if err := board.ValidateID(msg.BoardID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	s.deleteBoard(msg.BoardID)
	return nil
}

func (s *Service) handleBoardRenamed(clientID string, msg types.Message) error {
	if err := board.ValidateID(msg.BoardID); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if _, err := s.store.Rename(msg.BoardID, msg.Name); err != nil && !errors.Is(err, board.ErrNotFound) {
		s.logger.Error().Err(err).Str("board_id", msg.BoardID).Msg("rename persist failed")
	}
	s.hub.Publish(msg.BoardID, clientID, msg)
	return nil
}

// deleteBoard removes a board everywhere: the store, the cache, and every
// live member of its room gets exactly one deletion notice, the initiating
// connection included.
func (s *Service) deleteBoard(boardID string) {
	if err := s.store.Delete(boardID); err != nil && !errors.Is(err, board.ErrNotFound) {
		s.logger.Error().Err(err).Str("board_id", boardID).Msg("delete persist failed")
	}
	s.cache.Evict(boardID)
	s.hub.Publish(boardID, "", types.Message{
		Method:    types.MethodBoardDeleted,
		BoardID:   boardID,
		Timestamp: time.Now(),
	})
	s.logger.Info().Str("board_id", boardID).Msg("board deleted")
}
