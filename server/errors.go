package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/dispatch"
	"github.com/codewandler/cc-http-adapter/oai"
)

// apiError is the typed error handlers return; the central error handler
// translates it into the OpenAI {error:{message,type,code}} envelope.
type apiError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e apiError) Error() string {
	return e.Message
}

func writeEnvelope(c echo.Context, status int, message, errType, code string) error {
	return c.JSON(status, oai.ErrorResponse{
		Error: oai.ErrorDetail{Message: message, Type: errType, Code: code},
	})
}

// httpErrorHandler is the single point translating errors into HTTP
// envelopes. Anything that escapes the known taxonomy collapses to a 500
// server_error. Errors surfacing after the response is committed (an SSE
// stream already in flight) are logged only.
func httpErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			logger.Error("error after response committed", "err", err, "path", c.Request().URL.Path)
			return
		}

		var ae apiError
		if errors.As(err, &ae) {
			_ = writeEnvelope(c, ae.Status, ae.Message, ae.Type, ae.Code)
			return
		}

		if errors.Is(err, cchat.ErrCLINotFound) {
			_ = writeEnvelope(c, http.StatusInternalServerError, err.Error(), "server_error", "cli_not_installed")
			return
		}

		var timeoutErr *cchat.TimeoutError
		if errors.As(err, &timeoutErr) {
			_ = writeEnvelope(c, http.StatusInternalServerError, err.Error(), "server_error", "upstream_timeout")
			return
		}

		var exitErr *dispatch.UpstreamExitError
		if errors.As(err, &exitErr) {
			_ = writeEnvelope(c, http.StatusInternalServerError, err.Error(), "server_error", "upstream_exit")
			return
		}

		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			message := http.StatusText(echoErr.Code)
			if s, ok := echoErr.Message.(string); ok {
				message = s
			}
			errType := "server_error"
			if echoErr.Code < http.StatusInternalServerError {
				errType = "invalid_request_error"
			}
			_ = writeEnvelope(c, echoErr.Code, message, errType, "")
			return
		}

		logger.Error("unhandled error", "err", err, "path", c.Request().URL.Path)
		_ = writeEnvelope(c, http.StatusInternalServerError, "internal server error", "server_error", "")
	}
}
