package eventbus

import (
	"errors"
	"fmt"

	"github.com/waddlechat/waddle/internal/event"
)

// ErrChannelClosed is returned by Recv once the bus has been closed and no
// further buffered events remain for the subscription.
var ErrChannelClosed = errors.New("eventbus: channel closed")

// ErrInvalidChannel is re-exported for callers that only import eventbus.
var ErrInvalidChannel = event.ErrInvalidChannel

// ErrInvalidPattern is re-exported for callers that only import eventbus.
var ErrInvalidPattern = event.ErrInvalidPattern

// LaggedError reports that a subscription fell behind its domain queue's
// capacity and Count events were dropped before it could read them.
type LaggedError struct {
	Count int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventbus: lagged, dropped %d event(s)", e.Count)
}

// AsLagged reports whether err is a *LaggedError and returns it.
func AsLagged(err error) (*LaggedError, bool) {
	var l *LaggedError
	if errors.As(err, &l) {
		return l, true
	}
	return nil, false
}
