package dosing

import (
	"errors"
	"fmt"

	"github.com/mykyno/hydroponik/internal/state"
)

// ErrSafetyRejected is the sentinel behind every blocked dose or start.
var ErrSafetyRejected = errors.New("rejected by safety interlock")

type RejectReason int

const (
	ReasonChannelBusy RejectReason = iota
	ReasonDoseInterval
	ReasonHourlyCap
	ReasonSystemMode
	ReasonInvalidChannel
)

func (r RejectReason) String() string {
	switch r {
	case ReasonChannelBusy:
		return "channel not idle"
	case ReasonDoseInterval:
		return "minimum dose interval not elapsed"
	case ReasonHourlyCap:
		return "hourly dose limit reached"
	case ReasonSystemMode:
		return "system mode does not permit dosing"
	case ReasonInvalidChannel:
		return "invalid channel"
	default:
		return "unknown"
	}
}

type RejectedError struct {
	Channel state.ChannelID
	Reason  RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Channel, ErrSafetyRejected, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrSafetyRejected
}

func reject(ch state.ChannelID, reason RejectReason) error {
	return &RejectedError{Channel: ch, Reason: reason}
}
