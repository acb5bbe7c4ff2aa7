// Package rest exposes the board metadata CRUD surface and the WebSocket
// upgrade endpoint. It is the boundary the drawing clients consume; all
// state changes go through the sync service so the HTTP and WebSocket paths
// share one consistency policy.
package rest

import (
	"errors"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/drawspace/relay/src/board"
	"github.com/drawspace/relay/src/hub"
	"github.com/drawspace/relay/src/relay"
	"github.com/drawspace/relay/src/types"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
}

// Handler serves the board HTTP API.
type Handler struct {
	svc    *relay.Service
	logger zerolog.Logger
}

// New creates the HTTP handler around the sync service.
func New(svc *relay.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "rest").Logger()}
}

// RegisterRoutes registers the board CRUD and info routes via Fiber.
// The actual WebSocket upgrade uses FastHTTPHandler, registered at the app
// level since Fiber v3 does not expose *fasthttp.RequestCtx.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/boards", h.handleList)
	app.Get("/boards/:id/image", h.handleGetImage)
	app.Post("/boards/:id/image", h.handlePutImage)
	app.Patch("/boards/:id", h.handleRename)
	app.Delete("/boards/:id", h.handleDelete)
	app.Get("/ws/info", h.handleInfo)
}

func (h *Handler) handleList(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"boards": h.svc.ListBoards()})
}

func (h *Handler) handleGetImage(c fiber.Ctx) error {
	id := c.Params("id")
	snap, meta, err := h.svc.GetSnapshot(id)
	if errors.Is(err, board.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "board not found",
			"id":    id,
		})
	}
	if err != nil {
		h.logger.Error().Err(err).Str("board_id", id).Msg("snapshot read failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "read failed"})
	}
	return c.JSON(fiber.Map{
		"imageData": snap.DataURL(),
		"metadata":  meta,
	})
}

type putImageRequest struct {
	Img    string `json:"img"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h *Handler) handlePutImage(c fiber.Ctx) error {
	id := c.Params("id")
	var req putImageRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	snap, err := types.ParseDataURL(req.Img)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid image data"})
	}
	meta, err := h.svc.PutSnapshot(id, snap, board.Meta{
		Name:   req.Name,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		if berr := board.ValidateID(id); berr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": berr.Error()})
		}
		h.logger.Error().Err(err).Str("board_id", id).Msg("snapshot write failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "write failed"})
	}
	return c.JSON(fiber.Map{"id": meta.ID, "name": meta.Name, "updatedAt": meta.UpdatedAt})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleRename(c fiber.Ctx) error {
	id := c.Params("id")
	var req renameRequest
	if err := c.Bind().Body(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	meta, err := h.svc.RenameBoard(id, req.Name)
	if errors.Is(err, board.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
	}
	if err != nil {
		h.logger.Error().Err(err).Str("board_id", id).Msg("rename failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "rename failed"})
	}
	return c.JSON(meta)
}

func (h *Handler) handleDelete(c fiber.Ctx) error {
	id := c.Params("id")
	err := h.svc.DeleteBoard(id)
	if errors.Is(err, board.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
	}
	if err != nil {
		h.logger.Error().Err(err).Str("board_id", id).Msg("delete failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete failed"})
	}
	return c.JSON(fiber.Map{"message": "board deleted"})
}

func (h *Handler) handleInfo(c fiber.Ctx) error {
	hb := h.svc.Hub()
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   hb.ClientCount(),
		"rooms":     len(hb.Rooms()),
	})
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Register this on the fasthttp server at the "/ws" path.
func (h *Handler) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		clientID := uuid.New().String()
		hb := h.svc.Hub()
		logger := h.logger

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, &fasthttpConn{conn}, hb)
			hb.Register(client)
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
