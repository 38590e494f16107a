// Package ingest receives transcriptions from an external speech-to-text tool
// over HTTP and exposes the pipeline state.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nupi-ai/voice-talkback/internal/orchestrator"
	"github.com/nupi-ai/voice-talkback/internal/store"
)

// Controller is the orchestrator surface the server drives.
type Controller interface {
	HandleUtterance(ctx context.Context, text string) error
	Interrupt() error
	Snapshot() orchestrator.Snapshot
}

// History lists committed conversation messages.
type History interface {
	List(ctx context.Context, f store.Filter) ([]store.Message, error)
}

type transcription struct {
	Text string `json:"text"`
}

// Server is the HTTP transcription receiver.
type Server struct {
	app     *fiber.App
	ctl     Controller
	history History
	log     *slog.Logger
}

// New builds a Server. history may be nil, in which case GET /messages
// returns 404.
func New(ctl Controller, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctl:     ctl,
		history: history,
		log:     logger.With("component", "ingest"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "talkback",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Post("/transcription", s.handleTranscription)
	app.All("/transcription", methodNotAllowed)
	app.Post("/interrupt", s.handleInterrupt)
	app.Get("/status", s.handleStatus)
	if history != nil {
		app.Get("/messages", s.handleMessages)
	}

	s.app = app
	return s
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("transcription receiver listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleTranscription(c *fiber.Ctx) error {
	var text string
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		var req transcription
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		text = req.Text
	} else {
		text = string(c.Body())
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "empty transcription")
	}
	s.log.Info("transcription received", "length", len(text))

	if err := s.ctl.HandleUtterance(c.UserContext(), text); err != nil {
		var terr *orchestrator.TransportError
		switch {
		case errors.Is(err, orchestrator.ErrEmptyUtterance):
			return fiber.NewError(fiber.StatusBadRequest, "empty transcription")
		case errors.Is(err, orchestrator.ErrClosed):
			return fiber.NewError(fiber.StatusServiceUnavailable, "shutting down")
		case errors.Is(err, orchestrator.ErrSuperseded):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"status": "superseded"})
		case errors.As(err, &terr):
			return fiber.NewError(fiber.StatusBadGateway, terr.Error())
		default:
			return err
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	err := s.ctl.Interrupt()
	if err != nil && !errors.Is(err, orchestrator.ErrNoSession) {
		return err
	}
	return c.JSON(fiber.Map{"interrupted": err == nil})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctl.Snapshot())
}

func (s *Server) handleMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}
	messages, err := s.history.List(c.UserContext(), store.Filter{
		SessionID: c.Query("session"),
		Limit:     limit,
	})
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(messages)
}

func methodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return fiber.ErrMethodNotAllowed
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
