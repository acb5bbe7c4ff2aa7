package relay

import (
	"errors"
	"time"

	"github.com/drawspace/relay/src/board"
	"github.com/drawspace/relay/src/types"
)

// The methods below are the boundary consumed by the metadata CRUD surface
// and the bridge. They apply the same consistency policy as the WebSocket
// handlers so both paths observe one definition of "current state".

// ListBoards returns metadata for every persisted board.
func (s *Service) ListBoards() []board.Meta {
	return s.store.List()
}

// GetSnapshot returns the current snapshot, cache first then store.
func (s *Service) GetSnapshot(boardID string) (types.Snapshot, board.Meta, error) {
	if err := board.ValidateID(boardID); err != nil {
		return types.Snapshot{}, board.Meta{}, err
	}
	return s.currentState(boardID)
}

// PutSnapshot persists a snapshot synchronously (the direct read/write path:
// disk errors surface to the caller), updates the cache, and fans the update
// out to the board's room.
func (s *Service) PutSnapshot(boardID string, snap types.Snapshot, meta board.Meta) (board.Meta, error) {
	stored, err := s.store.Put(boardID, snap, meta)
	if err != nil {
		return board.Meta{}, err
	}
	s.cache.SetCached(boardID, snap)
	s.hub.Publish(boardID, "", types.Message{
		Method:    types.MethodCanvasUpdate,
		BoardID:   boardID,
		Name:      stored.Name,
		ImageData: snap.DataURL(),
		Width:     stored.Width,
		Height:    stored.Height,
		Timestamp: time.Now(),
	})
	return stored, nil
}

// RenameBoard updates the display name and notifies the room.
func (s *Service) RenameBoard(boardID, name string) (board.Meta, error) {
	meta, err := s.store.Rename(boardID, name)
	if err != nil {
		return board.Meta{}, err
	}
	s.hub.Publish(boardID, "", types.Message{
		Method:    types.MethodBoardRenamed,
		BoardID:   boardID,
		Name:      name,
		Timestamp: time.Now(),
	})
	return meta, nil
}

// DeleteBoard removes a board from the store, the cache, and the room.
// Returns ErrNotFound when the board exists nowhere.
func (s *Service) DeleteBoard(boardID string) error {
	if err := board.ValidateID(boardID); err != nil {
		return err
	}
	_, cached := s.cache.GetCached(boardID)
	_, metaErr := s.store.GetMeta(boardID)
	if !cached && errors.Is(metaErr, board.ErrNotFound) {
		return board.ErrNotFound
	}
	s.deleteBoard(boardID)
	return nil
}

// HandleBridgeMessage applies an event relayed from another instance to the
// local cache and store, then fans it out to local room members without
// re-publishing to the bridge.
func (s *Service) HandleBridgeMessage(msg types.Message) {
	switch msg.Method {
	case types.MethodCanvasUpdate:
		snap, err := types.ParseDataURL(msg.ImageData)
		if err != nil {
			s.logger.Error().Err(err).Str("board_id", msg.BoardID).Msg("bad bridged snapshot")
			return
		}
		s.cache.SetCached(msg.BoardID, snap)
		s.persistAsync(msg.BoardID, snap, board.Meta{Name: msg.Name, Width: msg.Width, Height: msg.Height})
	case types.MethodBoardDeleted:
		s.cache.Evict(msg.BoardID)
		if err := s.store.Delete(msg.BoardID); err != nil && !errors.Is(err, board.ErrNotFound) {
			s.logger.Error().Err(err).Str("board_id", msg.BoardID).Msg("bridged delete failed")
		}
	case types.MethodBoardRenamed:
		if _, err := s.store.Rename(msg.BoardID, msg.Name); err != nil && !errors.Is(err, board.ErrNotFound) {
			s.logger.Error().Err(err).Str("board_id", msg.BoardID).Msg("bridged rename failed")
		}
	}
	s.hub.BroadcastToLocal(msg)
}
