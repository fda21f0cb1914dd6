package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// VenueError is a business error reported by the exchange API.
type VenueError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

var (
	ErrPriceUnavailable   = errors.New("mark price unavailable")
	ErrBalanceUnavailable = errors.New("balance unavailable")
	ErrNoPosition         = errors.New("no open position")
	ErrTradingHalted      = errors.New("trading halted")
)

// Venue codes that indicate a transient condition worth another attempt.
const (
	venueCodeInternalError  = -1001
	venueCodeTooManyReq     = -1003
	venueCodeServerTimeout  = -1007
	venueCodeNoMarginChange = -4046
)

// IsRetryable reports whether err is a timeout-class failure: transport
// timeouts, HTTP 5xx/429, or the venue's transient error codes. Anything
// else is terminal for the current operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		if ve.HTTPStatus >= 500 || ve.HTTPStatus == 429 {
			return true
		}
		switch ve.Code {
		case venueCodeInternalError, venueCodeTooManyReq, venueCodeServerTimeout:
			return true
		}
	}
	return false
}

// IsNoChange reports venue rejections that mean the requested state already
// holds (re-setting leverage or margin type). Callers treat these as success.
func IsNoChange(err error) bool {
	var ve *VenueError
	if !errors.As(err, &ve) {
		return false
	}
	if ve.Code == venueCodeNoMarginChange {
		return true
	}
	return strings.Contains(strings.ToLower(ve.Msg), "no need to change")
}
