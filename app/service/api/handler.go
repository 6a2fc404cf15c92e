package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"negotiator/app/service/negotiation"
	"negotiator/app/service/scenario"
	"negotiator/app/service/session"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const heartbeatInterval = 15 * time.Second

type errorResponse struct {
	Error string             `json:"error"`
	State *negotiation.State `json:"state,omitempty"`
}

type messageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type scenarioResponse struct {
	Role       scenario.Role       `json:"role"`
	Title      string              `json:"title"`
	Scenario   string              `json:"scenario"`
	Priorities []scenario.Priority `json:"priorities"`
}

func (s *Service) routes() {
	api := s.app.Group("/api")

	api.Get("/scenarios/:role", s.getScenario)

	api.Post("/sessions", s.createSession)
	api.Get("/sessions/:id", s.getSession)
	api.Delete("/sessions/:id", s.endSession)
	api.Post("/sessions/:id/messages", s.sendMessage)
	api.Post("/sessions/:id/finish", s.finish)
	api.Post("/sessions/:id/evaluation", s.submitEvaluation)
	api.Post("/sessions/:id/survey", s.submitSurvey)
	api.Post("/sessions/:id/persist", s.persist)
	api.Get("/sessions/:id/events", s.streamEvents)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, negotiation.ErrEmptyMessage):
		return fiber.StatusBadRequest
	case errors.Is(err, negotiation.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, negotiation.ErrGeneration):
		return fiber.StatusBadGateway
	case errors.Is(err, negotiation.ErrPersistence):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// reply writes the state, or the error together with the state it left behind.
func reply(c *fiber.Ctx, st *negotiation.State, err error) error {
	if err != nil {
		return c.Status(statusOf(err)).JSON(errorResponse{Error: err.Error(), State: st})
	}
	return c.JSON(st)
}

func (s *Service) parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}
	if err := s.validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (s *Service) getScenario(c *fiber.Ctx) error {
	role := scenario.Role(c.Params("role"))

	brief, ok := s.catalog.Brief(role)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown role %q", role))
	}

	return c.JSON(scenarioResponse{
		Role:       role,
		Title:      s.catalog.Title,
		Scenario:   brief.Scenario,
		Priorities: brief.Priorities,
	})
}

func (s *Service) createSession(c *fiber.Ctx) error {
	var req session.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}

	st, err := s.sessions.Create(c.UserContext(), req)
	if err != nil {
		return reply(c, nil, err)
	}

	return c.Status(fiber.StatusCreated).JSON(st)
}

func (s *Service) getSession(c *fiber.Ctx) error {
	st, err := s.sessions.Get(c.UserContext(), c.Params("id"))
	return reply(c, st, err)
}

func (s *Service) endSession(c *fiber.Ctx) error {
	if err := s.sessions.End(c.UserContext(), c.Params("id")); err != nil {
		return reply(c, nil, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Service) sendMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := s.parse(c, &req); err != nil {
		return err
	}

	st, err := s.sessions.SendMessage(c.UserContext(), c.Params("id"), req.Text)
	return reply(c, st, err)
}

func (s *Service) finish(c *fiber.Ctx) error {
	st, err := s.sessions.ForceFinish(c.UserContext(), c.Params("id"))
	return reply(c, st, err)
}

func (s *Service) submitEvaluation(c *fiber.Ctx) error {
	var he negotiation.HumanEvaluation
	if err := s.parse(c, &he); err != nil {
		return err
	}

	st, err := s.sessions.SubmitEvaluation(c.UserContext(), c.Params("id"), he)
	return reply(c, st, err)
}

func (s *Service) submitSurvey(c *fiber.Ctx) error {
	var survey negotiation.Survey
	if err := s.parse(c, &survey); err != nil {
		return err
	}

	st, err := s.sessions.SubmitSurvey(c.UserContext(), c.Params("id"), survey)
	return reply(c, st, err)
}

func (s *Service) persist(c *fiber.Ctx) error {
	st, err := s.sessions.Persist(c.UserContext(), c.Params("id"))
	return reply(c, st, err)
}

// streamEvents sends a snapshot followed by live events until the session is done
// or the client goes away.
func (s *Service) streamEvents(c *fiber.Ctx) error {
	id := c.Params("id")

	// subscribe before the snapshot so nothing emitted in between is lost
	events, cancel := s.events.Subscribe(id)

	st, err := s.sessions.Get(c.UserContext(), id)
	if err != nil {
		cancel()
		return reply(c, nil, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeSSE(w, "snapshot", st); err != nil {
			slog.Debug("SSE client went away", "session_id", id, "error", err)
			return
		}
		if st.Phase == negotiation.PhaseDone {
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeSSE(w, string(event.Kind), event); err != nil {
					slog.Debug("SSE client went away", "session_id", id, "error", err)
					return
				}
				if event.Kind == negotiation.EventDone {
					return
				}
			case <-heartbeat.C:
				// comment lines keep proxies from closing the stream and detect gone clients
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

func writeSSE(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
