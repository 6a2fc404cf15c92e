// Package api exposes session commands over HTTP and streams session events as SSE.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"negotiator/app/config"
	"negotiator/app/service/engine"
	"negotiator/app/service/negotiation"
	"negotiator/app/service/scenario"
	"negotiator/app/service/session"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

const shutdownTimeout = 10 * time.Second

// Sessions is the command surface of the session service.
type Sessions interface {
	Create(ctx context.Context, req session.CreateRequest) (*negotiation.State, error)
	Get(ctx context.Context, id string) (*negotiation.State, error)
	SendMessage(ctx context.Context, id, text string) (*negotiation.State, error)
	ForceFinish(ctx context.Context, id string) (*negotiation.State, error)
	SubmitEvaluation(ctx context.Context, id string, he negotiation.HumanEvaluation) (*negotiation.State, error)
	SubmitSurvey(ctx context.Context, id string, survey negotiation.Survey) (*negotiation.State, error)
	Persist(ctx context.Context, id string) (*negotiation.State, error)
	End(ctx context.Context, id string) error
}

type EventSource interface {
	Subscribe(sessionID string) (<-chan negotiation.Event, func())
}

type Service struct {
	addr     string
	app      *fiber.App
	sessions Sessions
	events   EventSource
	catalog  *scenario.Catalog
	validate *validator.Validate
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewServer(
		cfg.HTTP.Addr,
		do.MustInvoke[*session.Service](di),
		do.MustInvoke[*engine.Service](di),
		do.MustInvoke[*scenario.Catalog](di),
	), nil
}

func NewServer(addr string, sessions Sessions, events EventSource, catalog *scenario.Catalog) *Service {
	s := &Service{
		addr:     addr,
		sessions: sessions,
		events:   events,
		catalog:  catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "negotiator",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.routes()

	return s
}

func (s *Service) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server...")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}

	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}
