package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Graph is a validated, static DAG of named stages. The topology is data:
// one generic executor walks it, so the branching logic lives in the
// dependency and guard table rather than in per-stage code.
type Graph struct {
	stages []Stage
}

func NewGraph(stages ...Stage) (*Graph, error) {
	names := map[string]bool{}
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("every stage needs a name")
		}
		if names[stage.Name] {
			return nil, fmt.Errorf("duplicate stage %s", stage.Name)
		}
		if stage.Action == nil {
			return nil, fmt.Errorf("stage %s has no action", stage.Name)
		}
		names[stage.Name] = true
	}
	for _, stage := range stages {
		for _, dependency := range stage.DependsOn {
			if !names[dependency] {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", stage.Name, dependency)
			}
		}
	}
	graph := &Graph{stages: stages}
	if err := graph.checkAcyclic(); err != nil {
		return nil, err
	}
	return graph, nil
}

func (g *Graph) checkAcyclic() error {
	settled := map[string]bool{}
	for remaining := len(g.stages); remaining > 0; {
		progressed := false
		for _, stage := range g.stages {
			if settled[stage.Name] {
				continue
			}
			if g.dependenciesSettled(stage, settled) {
				settled[stage.Name] = true
				remaining--
				progressed = true
			}
		}
		if !progressed {
			return fmt.Errorf("stage dependencies form a cycle")
		}
	}
	return nil
}

func (g *Graph) dependenciesSettled(stage Stage, settled map[string]bool) bool {
	for _, dependency := range stage.DependsOn {
		if !settled[dependency] {
			return false
		}
	}
	return true
}

// Execute walks the graph single-threaded and stage-sequential in
// declaration order. A stage runs only once every dependency holds a
// terminal outcome; its guard is consulted exactly once, after the
// dependencies settled. A stage failure settles as ran-failed and is
// reported in the returned error, but dependents still settle: whether
// they run is purely up to their own guards. Guard skips are normal,
// reported-but-not-erroring outcomes.
func (g *Graph) Execute(ctx context.Context, run *RunContext, logger *logrus.Entry) error {
	var stageErrors []error
	for settledCount := 0; settledCount < len(g.stages); {
		progressed := false
		for i := range g.stages {
			stage := g.stages[i]
			if _, alreadySettled := run.Outcome(stage.Name); alreadySettled {
				continue
			}
			if !g.runnable(stage, run) {
				continue
			}

			outcome := OutcomeRanOK
			if stage.Guard != nil && !stage.Guard(run) {
				outcome = OutcomeSkipped
				logger.WithField("stage", stage.Name).Info("Stage skipped by guard.")
			} else if err := stage.Action(ctx, run); err != nil {
				outcome = OutcomeRanFailed
				stageErrors = append(stageErrors, fmt.Errorf("stage %s failed: %w", stage.Name, err))
				logger.WithField("stage", stage.Name).WithError(err).Error("Stage failed.")
			} else {
				logger.WithField("stage", stage.Name).Info("Stage succeeded.")
			}

			if err := run.settle(stage.Name, outcome); err != nil {
				return err
			}
			settledCount++
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("no runnable stage left before all stages settled")
		}
	}
	return utilerrors.NewAggregate(stageErrors)
}

func (g *Graph) runnable(stage Stage, run *RunContext) bool {
	for _, dependency := range stage.DependsOn {
		if _, settled := run.Outcome(dependency); !settled {
			return false
		}
	}
	return true
}
