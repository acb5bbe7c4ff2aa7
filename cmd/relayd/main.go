// Command relayd runs the drawspace relay server: the board HTTP API plus
// the WebSocket sync endpoint, with an optional Redis bridge for running
// more than one instance.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/drawspace/relay/config"
	"github.com/drawspace/relay/src/board"
	"github.com/drawspace/relay/src/bridge"
	"github.com/drawspace/relay/src/hub"
	"github.com/drawspace/relay/src/relay"
	"github.com/drawspace/relay/src/rest"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg := config.FromEnv()

	store, err := board.NewStore(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("board store init failed")
	}
	cache := board.NewCache()

	h := hub.New(cfg.PingInterval, logger)
	svc := relay.New(h, cache, store, logger)
	go h.Run()

	// Redis is optional: without it the hub runs standalone.
	rb := initBridge(svc, h, logger)

	handler := rest.New(svc, logger)
	app := fiber.New(fiber.Config{AppName: "drawspace-relay"})
	handler.RegisterRoutes(app)

	wsHandler := handler.FastHTTPHandler()
	appHandler := app.Handler()
	server := &fasthttp.Server{
		Name:            "drawspace-relay",
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) == "/ws" {
				wsHandler(ctx)
				return
			}
			appHandler(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("relay listening")
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if rb != nil {
		if err := rb.Stop(); err != nil {
			logger.Error().Err(err).Msg("bridge stop error")
		}
	}
	h.Stop()
	logger.Info().Msg("relay stopped")
}

// initBridge tries to start the Redis pub/sub bridge. When Redis is not
// reachable the server keeps running in standalone mode.
func initBridge(svc *relay.Service, h *hub.Hub, logger zerolog.Logger) *bridge.RedisBridge {
	cfg := bridge.RedisConfigFromEnv()
	rb := bridge.NewRedisBridge(cfg, svc, logger)

	if err := rb.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return nil
	}

	h.SetBridge(rb)
	logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
	return rb
}
