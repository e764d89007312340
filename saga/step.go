package saga

import (
	"context"

	"github.com/meridian-commerce/orchestrator/log"
)

// step is one unit of a linear saga. run returns nil to continue to the next
// step, or a failure result that terminates the saga. Declaring control flow
// as a step list keeps ordering explicit and lets the runner log progress
// uniformly.
type step struct {
	name string
	run  func(ctx context.Context) *Result
}

// runSteps executes steps in declared order and returns the first failure, or
// nil when every step passed.
func (co *Coordinator) runSteps(ctx context.Context, sagaName string, steps []step) *Result {
	for _, st := range steps {
		failure := st.run(ctx)
		if failure == nil {
			co.logger.Log(ctx, log.LevelDebug, "saga step passed",
				log.String("saga", sagaName), log.String("step", st.name))

			continue
		}

		co.logger.Log(ctx, log.LevelInfo, "saga step failed",
			log.String("saga", sagaName),
			log.String("step", st.name),
			log.String("reason", failure.Message))

		return failure
	}

	return nil
}
