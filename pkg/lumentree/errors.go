package lumentree

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lumentreeinfo/lumentree/pkg/common"
	"github.com/lumentreeinfo/lumentree/pkg/tokens"
)

var (
	// ErrAuthFailure means no usable token could be obtained for the device.
	ErrAuthFailure = tokens.ErrAuthFailure
	// ErrDeviceNotFound means the vendor returned no metadata for the device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrTimeout means the upstream did not answer within the budget.
	ErrTimeout = errors.New("upstream timeout")
	// ErrConnect means the upstream could not be reached at all.
	ErrConnect = errors.New("upstream connect failure")
)

// StatusError is a non-success HTTP status from an upstream.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
}

// classify tags transport errors with ErrTimeout or ErrConnect while keeping
// the original error in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case common.IsTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case common.IsConnectFailure(err):
		return fmt.Errorf("%w: %w", ErrConnect, err)
	default:
		return err
	}
}
