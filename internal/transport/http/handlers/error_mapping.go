package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/portal-realtime/internal/infra/backend"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// ErrorCases is an ordered list of cases; the first match wins.
type ErrorCases []ErrorCase

// upstreamErrorCases cover failures of the portal REST services behind a cached lookup.
var upstreamErrorCases = ErrorCases{
	{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "upstream timed out"},
	{Err: backend.ErrUnexpectedStatus, Status: http.StatusBadGateway, Message: "upstream rejected the request"},
}

// With returns a copy of cs followed by more.
func (cs ErrorCases) With(more ...ErrorCase) ErrorCases {
	out := make(ErrorCases, 0, len(cs)+len(more))
	out = append(out, cs...)
	return append(out, more...)
}

// Match returns the first case whose sentinel err wraps.
func (cs ErrorCases) Match(err error) (ErrorCase, bool) {
	for _, c := range cs {
		if c.Err != nil && errors.Is(err, c.Err) {
			return c, true
		}
	}
	return ErrorCase{}, false
}

// RespondWithMappedError records err on the gin context and writes the matching case,
// or the fallback when nothing matches.
func RespondWithMappedError(c *gin.Context, err error, cases ErrorCases, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	if match, ok := cases.Match(err); ok {
		c.JSON(match.Status, NewErrorResponse(c, match.Message))
		return
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
