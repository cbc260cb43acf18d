package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcatullo/talazo-kg/internal/ratelimit"
)

var (
	// ErrEmptyInput is returned when the source yields no requests at all.
	ErrEmptyInput = errors.New("dispatch: input contains no requests")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")

	// ErrNegativeCost marks an item whose estimator returned a cost below
	// zero. The item is treated as an invalid payload.
	ErrNegativeCost = errors.New("dispatch: estimator returned a negative cost")
)

// CostExceedsBudgetError reports an item whose estimated cost is larger than
// the cost budget maximum, so it could never be admitted. It aborts the run.
type CostExceedsBudgetError struct {
	Metadata json.RawMessage
	Seq      int64
	Cost     int
	Max      int
}

// Error implements the error interface.
func (e *CostExceedsBudgetError) Error() string {
	if len(e.Metadata) > 0 {
		return fmt.Sprintf("dispatch: item %d (metadata %s) estimated cost %d exceeds cost budget maximum %d",
			e.Seq, e.Metadata, e.Cost, e.Max)
	}
	return fmt.Sprintf("dispatch: item %d estimated cost %d exceeds cost budget maximum %d", e.Seq, e.Cost, e.Max)
}

// Unwrap allows errors.Is(err, ratelimit.ErrCostExceedsBudget).
func (e *CostExceedsBudgetError) Unwrap() error {
	return ratelimit.ErrCostExceedsBudget
}
