package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/dispatch"
	"github.com/codewandler/cc-http-adapter/oai"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req oai.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if len(req.Messages) == 0 {
		return apiError{
			Status:  http.StatusBadRequest,
			Message: "messages must be a non-empty array",
			Type:    "invalid_request_error",
			Code:    "invalid_messages",
		}
	}

	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	inv := oai.TranslateRequest(&req)

	// The request's user field is the conversation key; the store maps it to
	// the upstream session id the CLI resumes with.
	var sessionID string
	if inv.SessionID != "" {
		sessionID = s.store.GetOrCreate(inv.SessionID, inv.Model).ClaudeSessionID
	}

	if err := s.acquire(c); err != nil {
		return err
	}
	defer s.release()

	d := s.newDriver(cchat.DriverConfig{
		CLIPath:   s.cfg.CLIPath,
		Model:     inv.Model,
		SessionID: sessionID,
		WorkDir:   s.cfg.WorkDir,
		Timeout:   s.cfg.Timeout,
		Logger:    s.logger,
	})

	if err := d.Start(c.Request().Context(), inv.Prompt); err != nil {
		return err
	}

	return dispatch.Respond(c.Response(), c.Request(), d, dispatch.Options{
		RequestID:   oai.NewRequestID(),
		ToolsActive: inv.ToolsActive,
		Stream:      req.Stream,
		Logger:      s.logger,
	})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, oai.ModelList{
		Object: "list",
		Data: []oai.Model{
			{ID: "claude-opus-4", Object: "model", OwnedBy: "anthropic"},
			{ID: "claude-sonnet-4", Object: "model", OwnedBy: "anthropic"},
			{ID: "claude-haiku-4", Object: "model", OwnedBy: "anthropic"},
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"provider":  "claude-code-cli",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// acquire takes a subprocess slot when a concurrency cap is configured.
func (s *Server) acquire(c echo.Context) error {
	if s.sem == nil {
		return nil
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return apiError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
				Code:    "invalid_body",
			}
		}
		return apiError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
			Code:    "invalid_body",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return apiError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
			Code:    "invalid_body",
		}
	}
	return nil
}
