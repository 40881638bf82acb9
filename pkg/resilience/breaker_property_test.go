package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property test: for any sequence of delivery outcomes, the breaker opens
// exactly when a run of threshold consecutive failures completes, and once
// open (with a cooldown longer than the test) nothing reaches the endpoint.
func TestProperty_BreakerOpensOnFailureRuns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genThreshold := gen.IntRange(1, 6)
	genOutcomes := gen.SliceOf(gen.Bool())

	errDown := errors.New("endpoint down")

	properties.Property("opens exactly on the first full failure run", prop.ForAll(
		func(threshold int, outcomes []bool) bool {
			b := NewBreaker(threshold, time.Hour)

			run := 0
			opened := false
			for i, ok := range outcomes {
				executed := false
				err := b.Execute(func() error {
					executed = true
					if ok {
						return nil
					}
					return errDown
				})

				if opened {
					if executed || !errors.Is(err, ErrBreakerOpen) {
						t.Logf("outcome %d reached the endpoint after the breaker opened", i)
						return false
					}
					continue
				}

				if !executed {
					t.Logf("outcome %d short-circuited while closed", i)
					return false
				}
				if ok {
					run = 0
				} else {
					run++
					if run >= threshold {
						opened = true
					}
				}
			}
			wantState := StateClosed
			if opened {
				wantState = StateOpen
			}
			return b.State() == wantState
		},
		genThreshold,
		genOutcomes,
	))

	properties.Property("successes alone never open the breaker", prop.ForAll(
		func(threshold, calls int) bool {
			b := NewBreaker(threshold, time.Hour)
			for i := 0; i < calls; i++ {
				if err := b.Execute(func() error { return nil }); err != nil {
					return false
				}
			}
			return b.State() == StateClosed
		},
		genThreshold,
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}
