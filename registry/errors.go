package registry

import (
	"errors"
	"net/http"

	"github.com/BaSui01/agentrelay/types"
)

// ToError maps a store error to a typed API error for agent.
// Errors that already carry a types.Error pass through unchanged.
func ToError(agent string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}

	var conflict *PortConflictError
	switch {
	case errors.Is(err, ErrNotFound):
		return types.NewNotFoundError(agent).WithHTTPStatus(http.StatusNotFound)
	case errors.Is(err, ErrAlreadyExists):
		return types.NewError(types.ErrAlreadyExists, "agent already exists").
			WithAgent(agent).
			WithHTTPStatus(http.StatusBadRequest)
	case errors.As(err, &conflict):
		return types.NewError(types.ErrPortConflict, conflict.Error()).
			WithAgent(agent).
			WithHTTPStatus(http.StatusConflict)
	case errors.Is(err, ErrPortConflict):
		return types.NewError(types.ErrPortConflict, err.Error()).
			WithAgent(agent).
			WithHTTPStatus(http.StatusConflict)
	case errors.Is(err, ErrInvalidInput):
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithAgent(agent).
			WithHTTPStatus(http.StatusBadRequest)
	default:
		return types.NewError(types.ErrInternalError, "registry failure").
			WithAgent(agent).
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError).
			WithRetryable(errors.Is(err, ErrStoreClosed))
	}
}
