package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SourceState is the outcome class of a precipitation source call.
type SourceState int

const (
	// SourceStateValue means the source produced an amount.
	SourceStateValue SourceState = iota + 1
	// SourceStateUnavailable means the source had no data for the location or
	// could not be reached in time. It is an expected condition and triggers
	// fallback.
	SourceStateUnavailable
	// SourceStateFailed means the source failed in a way the caller must not
	// interpret as "no rain".
	SourceStateFailed
)

func (s SourceState) String() string {
	switch s {
	case SourceStateValue:
		return "value"
	case SourceStateUnavailable:
		return "unavailable"
	case SourceStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SourceState(%d)", int(s))
	}
}

// SourceResult unifies the outcome of every precipitation adapter so the
// fallback chain is written once. Exactly one of Amount, Reason or Err is
// meaningful, selected by State.
type SourceResult struct {
	State SourceState
	// Amount is in inches at the precision produced by the source.
	Amount decimal.Decimal
	// Detail names the data path that produced Amount (e.g. "station:KAUS",
	// "qpf", "forecast_text").
	Detail string
	// Reason explains an Unavailable result.
	Reason string
	// Err is set for a Failed result.
	Err error
}

// SourceValue returns a Value result.
func SourceValue(amount decimal.Decimal, detail string) SourceResult {
	return SourceResult{State: SourceStateValue, Amount: amount, Detail: detail}
}

// SourceUnavailable returns an Unavailable result.
func SourceUnavailable(reason string) SourceResult {
	return SourceResult{State: SourceStateUnavailable, Reason: reason}
}

// SourceFailed returns a Failed result. A nil err is replaced so that a
// Failed result always carries an error.
func SourceFailed(err error) SourceResult {
	if err == nil {
		err = fmt.Errorf("precipitation source failed without an error")
	}
	return SourceResult{State: SourceStateFailed, Err: err}
}
