package server

import (
	"errors"
	"net/http"
	"strconv"

	orchestration "github.com/koscakluka/ema-support/core"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/telephony/twilio"
	"github.com/labstack/echo/v4"
)

const defaultReplayLimit = 50

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "healthy",
		"active_calls": s.orchestrator.Registry().Len(),
	})
}

// IncomingCall answers the Twilio voice webhook by connecting the call to
// the media stream.
// POST /incoming-call
func (s *Server) IncomingCall(c echo.Context) error {
	host := s.publicHost
	if host == "" {
		host = c.Request().Host
	}

	response, err := twilio.ConnectTwiML(twilio.MediaStreamURL(host, mediaStreamPath), c.FormValue("From"))
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "failed to answer incoming call", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to answer call"})
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(response))
}

// ListCalls lists live calls, oldest first.
// GET /v1/calls
func (s *Server) ListCalls(c echo.Context) error {
	sessions := s.orchestrator.Sessions()
	return c.JSON(http.StatusOK, map[string]any{
		"calls": sessions,
		"count": len(sessions),
	})
}

// GetCall returns the current snapshot of one live call.
// GET /v1/calls/:call_id
func (s *Server) GetCall(c echo.Context) error {
	session, ok := s.orchestrator.Session(calls.CallID(c.Param("call_id")))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// HangupCall closes a live call as if the caller had hung up. The ticket is
// still filed.
// POST /v1/calls/:call_id/hangup
func (s *Server) HangupCall(c echo.Context) error {
	callID := calls.CallID(c.Param("call_id"))
	if err := s.orchestrator.TerminateCall(callID, calls.CauseHangup); err != nil {
		if errors.Is(err, orchestration.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
		}
		if errors.Is(err, orchestration.ErrSessionClosed) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "call already closed"})
		}
		s.logger.ErrorContext(c.Request().Context(), "failed to hang up call", "call_id", callID.String(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to hang up call"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"call_id": callID.String(),
		"status":  "closing",
	})
}

// PendingTickets lists ticket payloads waiting for replay.
// GET /v1/tickets/pending?limit=N
func (s *Server) PendingTickets(c echo.Context) error {
	if s.fallback == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no fallback store configured"})
	}
	limit, err := queryLimit(c, 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}

	entries, err := s.fallback.Pending(c.Request().Context(), limit)
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "failed to list pending tickets", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list pending tickets"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ReplayTickets resubmits queued payloads to the ticketing system.
// POST /v1/tickets/replay?limit=N
func (s *Server) ReplayTickets(c echo.Context) error {
	if s.replayer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ticket replay is not configured"})
	}
	limit, err := queryLimit(c, defaultReplayLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}

	report, err := s.replayer.Replay(c.Request().Context(), limit)
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "ticket replay failed", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":  "ticket replay failed",
			"report": report,
		})
	}
	return c.JSON(http.StatusOK, report)
}

// IndexArticles copies the help center articles into the knowledge base.
// POST /v1/kb/index
func (s *Server) IndexArticles(c echo.Context) error {
	if s.indexer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "article indexing is not configured"})
	}

	report, err := s.indexer.Run(c.Request().Context())
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "article indexing failed", "error", err)
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":  "article indexing failed",
			"report": report,
		})
	}
	s.logger.InfoContext(c.Request().Context(), "indexed articles", "indexed", report.Indexed, "skipped", report.Skipped)
	return c.JSON(http.StatusOK, report)
}

// TicketSchema returns the JSON schema of the ticket creation payload.
// GET /v1/schema/ticket
func (s *Server) TicketSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ticketSchema)
}

func queryLimit(c echo.Context, defaultVal int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultVal, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}
