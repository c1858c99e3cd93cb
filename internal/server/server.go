// Package server exposes the bot over HTTP: liveness, metrics and the
// Telegram webhook.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/observability"
)

// Dispatcher accepts webhook updates for asynchronous handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, u tgbotapi.Update)
}

// Options configures a Server.
type Options struct {
	// Dispatcher receives webhook updates. When nil the webhook route is not mounted.
	Dispatcher Dispatcher
	// WebhookPath is the webhook route, e.g. "/bot<token>".
	WebhookPath string
	Logger      zerolog.Logger
}

// Server is the HTTP front of the bot.
type Server struct {
	app        *fiber.App
	dispatcher Dispatcher
	logger     zerolog.Logger

	// ctx outlives individual requests; updates are handled after the response.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the server and its routes.
func New(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger.With().Str("component", "server").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Bot is running")
	})
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(observability.Handler()))

	if s.dispatcher != nil && opts.WebhookPath != "" {
		s.app.Post(opts.WebhookPath, s.handleWebhook)
	}
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and cancels the context of webhook updates
// still being handled.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleWebhook(c *fiber.Ctx) error {
	var u tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &u); err != nil {
		s.logger.Warn().Err(err).Msg("malformed webhook update")
		return fiber.NewError(fiber.StatusBadRequest, "invalid update")
	}

	s.dispatcher.Dispatch(s.ctx, u)
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
