package rollout

import (
	"fmt"
	"time"
)

// StageDefinition is the immutable configuration for one non-rollback stage.
type StageDefinition struct {
	Name                   Stage
	MinPercentage          int
	MaxPercentage          int
	MinStableDuration      time.Duration
	RequiresManualApproval bool
}

// stageOrder is the only legal advance sequence. Rollback sits outside it.
var stageOrder = []Stage{StageShadow, StageCanary, StageExpansion, StageMajority, StageFull}

// DefaultStages returns the reference stage ladder.
func DefaultStages() []StageDefinition {
	return []StageDefinition{
		{Name: StageShadow, MinPercentage: 0, MaxPercentage: 0, MinStableDuration: 24 * time.Hour},
		{Name: StageCanary, MinPercentage: 1, MaxPercentage: 5, MinStableDuration: 24 * time.Hour, RequiresManualApproval: true},
		{Name: StageExpansion, MinPercentage: 10, MaxPercentage: 25, MinStableDuration: 48 * time.Hour},
		{Name: StageMajority, MinPercentage: 50, MaxPercentage: 75, MinStableDuration: 48 * time.Hour, RequiresManualApproval: true},
		{Name: StageFull, MinPercentage: 100, MaxPercentage: 100, MinStableDuration: 0, RequiresManualApproval: true},
	}
}

// StageEngine owns the stage-transition rules: ordering, percentage bounds
// and the auto-progression ramp.
type StageEngine struct {
	defs        map[Stage]StageDefinition
	stepPercent int
}

// NewStageEngine validates the definitions against the fixed stage order.
// stepPercent is the linear auto-progression increment per stable tick.
func NewStageEngine(defs []StageDefinition, stepPercent int) (*StageEngine, error) {
	if len(defs) != len(stageOrder) {
		return nil, fmt.Errorf("expected %d stage definitions, got %d", len(stageOrder), len(defs))
	}
	if stepPercent <= 0 {
		return nil, fmt.Errorf("progression step must be positive, got %d", stepPercent)
	}

	byName := make(map[Stage]StageDefinition, len(defs))
	for i, def := range defs {
		if def.Name != stageOrder[i] {
			return nil, fmt.Errorf("stage %d must be %q, got %q", i, stageOrder[i], def.Name)
		}
		if def.MinPercentage < 0 || def.MaxPercentage > 100 {
			return nil, fmt.Errorf("stage %q percentage bounds outside [0,100]", def.Name)
		}
		if def.MinPercentage > def.MaxPercentage {
			return nil, fmt.Errorf("stage %q min percentage exceeds max", def.Name)
		}
		if def.MinStableDuration < 0 {
			return nil, fmt.Errorf("stage %q min stable duration is negative", def.Name)
		}
		byName[def.Name] = def
	}

	for i := 1; i < len(defs); i++ {
		if defs[i].MinPercentage < defs[i-1].MaxPercentage {
			return nil, fmt.Errorf("stage %q overlaps the previous stage's traffic range", defs[i].Name)
		}
	}

	return &StageEngine{defs: byName, stepPercent: stepPercent}, nil
}

// First returns the initial stage definition.
func (e *StageEngine) First() StageDefinition {
	return e.defs[stageOrder[0]]
}

// Definition looks up the configuration for a stage.
func (e *StageEngine) Definition(stage Stage) (StageDefinition, bool) {
	def, ok := e.defs[stage]
	return def, ok
}

// Next returns the stage following the given one in the fixed order.
// There is no stage after full, and rollback has no successor.
func (e *StageEngine) Next(stage Stage) (StageDefinition, bool) {
	for i, name := range stageOrder {
		if name == stage && i+1 < len(stageOrder) {
			return e.defs[stageOrder[i+1]], true
		}
	}
	return StageDefinition{}, false
}

// NextPercentage applies one linear ramp step within the stage bounds.
// It never crosses the stage maximum.
func (e *StageEngine) NextPercentage(def StageDefinition, current int) int {
	next := current + e.stepPercent
	if next > def.MaxPercentage {
		next = def.MaxPercentage
	}
	if next < def.MinPercentage {
		next = def.MinPercentage
	}
	return next
}
