package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ItemEstimate is the priced form of one request, as seen by Scan.
type ItemEstimate struct {
	Err      error
	Metadata json.RawMessage
	Seq      int64
	Cost     int
}

// PreflightReport summarizes a full pass over an input.
type PreflightReport struct {
	Items       int64 `json:"items"`
	Invalid     int64 `json:"invalid"`
	TotalCost   int64 `json:"total_cost"`
	MaxItemCost int   `json:"max_item_cost"`
}

// MinDuration is the shortest time the batch can take under the given
// per-minute limits, ignoring latency. Both budgets start full, so the first
// minute's capacity is free.
func (p PreflightReport) MinDuration(rpm, cpm int) time.Duration {
	if rpm <= 0 || cpm <= 0 {
		return 0
	}
	sent := p.Items - p.Invalid
	byRequests := float64(sent-int64(rpm)) / float64(rpm)
	byCost := float64(p.TotalCost-int64(cpm)) / float64(cpm)
	minutes := max(byRequests, byCost, 0)
	return time.Duration(minutes * float64(time.Minute))
}

// price runs est and rejects a negative result, which would otherwise
// credit the cost budget.
func price(est Estimator, payload json.RawMessage) (int, error) {
	cost, err := est.Estimate(payload)
	if err != nil {
		return 0, err
	}
	if cost < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeCost, cost)
	}
	return cost, nil
}

// Scan prices every request from src and calls fn for each. Scan stops at
// the first error returned by fn.
func Scan(ctx context.Context, src Source, est Estimator, fn func(ItemEstimate) error) (PreflightReport, error) {
	var report PreflightReport
	for {
		req, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("dispatch: read input: %w", err)
		}

		item := ItemEstimate{Seq: report.Items, Metadata: req.Metadata}
		report.Items++

		item.Cost, item.Err = price(est, req.Payload)
		if item.Err != nil {
			report.Invalid++
		} else {
			report.TotalCost += int64(item.Cost)
			report.MaxItemCost = max(report.MaxItemCost, item.Cost)
		}

		if fn != nil {
			if err := fn(item); err != nil {
				return report, err
			}
		}
	}

	if report.Items == 0 {
		return report, ErrEmptyInput
	}
	return report, nil
}

// Preflight scans src and fails with *CostExceedsBudgetError on the first
// item that could never be admitted under maxCost.
func Preflight(ctx context.Context, src Source, est Estimator, maxCost int) (PreflightReport, error) {
	return Scan(ctx, src, est, func(item ItemEstimate) error {
		if item.Err == nil && item.Cost > maxCost {
			return &CostExceedsBudgetError{
				Seq:      item.Seq,
				Cost:     item.Cost,
				Max:      maxCost,
				Metadata: item.Metadata,
			}
		}
		return nil
	})
}
