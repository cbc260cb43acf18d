package dispatch_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/ratelimit"
	"github.com/rcatullo/talazo-kg/internal/sink"
	"github.com/rcatullo/talazo-kg/internal/source"
)

// Property: every item read ends with exactly one record, and the record's
// status and attempt count follow from the item's scripted outcomes.
func TestDispatch_Property_EveryItemRecordedOnce(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// Each item gets a script code: 0 succeeds, 1 fails terminally,
	// 2..4 fails retryably that many times before succeeding.
	properties.Property("one record per item", prop.ForAll(
		func(codes []int, placementBack bool) bool {
			if len(codes) == 0 {
				return true
			}

			sender := newScriptedSender()
			for i, code := range codes {
				seq := int64(i)
				switch {
				case code == 1:
					sender.script(seq, terminal("no"))
				case code >= 2:
					script := make([]dispatch.Outcome, 0, code+1)
					for range code {
						script = append(script, retryable("again"))
					}
					sender.script(seq, append(script, success(seq))...)
				}
			}

			cfg := testConfig()
			if placementBack {
				cfg.RetryPlacement = dispatch.RetryBack
			}
			limiter, err := ratelimit.NewDualBucket(1000000, 10000000)
			if err != nil {
				return false
			}
			d, err := dispatch.New(cfg, limiter, fixedCost(1), sender)
			if err != nil {
				return false
			}

			out := sink.NewMemory()
			summary, err := d.Run(context.Background(), source.FromSlice(requests(len(codes))), out)
			if err != nil {
				return false
			}

			bySeq := out.BySeq()
			if len(out.Records()) != len(codes) || len(bySeq) != len(codes) {
				return false
			}
			for i, code := range codes {
				rec := bySeq[int64(i)]
				switch {
				case code == 0:
					if rec.Status != dispatch.StatusSuccess || rec.Attempts != 1 {
						return false
					}
				case code == 1:
					if rec.Status != dispatch.StatusFailed || rec.Attempts != 1 {
						return false
					}
				case code+1 <= cfg.MaxAttempts:
					if rec.Status != dispatch.StatusSuccess || rec.Attempts != code+1 {
						return false
					}
				default:
					if rec.Status != dispatch.StatusExhausted || len(rec.Errors) != cfg.MaxAttempts {
						return false
					}
				}
			}
			return summary.Unrecorded == 0 && summary.InProgress == 0
		},
		gen.SliceOf(gen.IntRange(0, 4)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
