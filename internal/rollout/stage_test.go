package rollout

import (
	"testing"
	"time"
)

func TestNewStageEngine_Validation(t *testing.T) {
	valid := DefaultStages()

	tests := []struct {
		name    string
		mutate  func([]StageDefinition) []StageDefinition
		step    int
		wantErr bool
	}{
		{
			name:   "default definitions",
			mutate: func(defs []StageDefinition) []StageDefinition { return defs },
			step:   5,
		},
		{
			name: "missing stage",
			mutate: func(defs []StageDefinition) []StageDefinition {
				return defs[:4]
			},
			step:    5,
			wantErr: true,
		},
		{
			name: "wrong order",
			mutate: func(defs []StageDefinition) []StageDefinition {
				defs[0], defs[1] = defs[1], defs[0]
				return defs
			},
			step:    5,
			wantErr: true,
		},
		{
			name: "percentage above 100",
			mutate: func(defs []StageDefinition) []StageDefinition {
				defs[4].MaxPercentage = 120
				return defs
			},
			step:    5,
			wantErr: true,
		},
		{
			name: "min above max",
			mutate: func(defs []StageDefinition) []StageDefinition {
				defs[1].MinPercentage = 10
				defs[1].MaxPercentage = 5
				return defs
			},
			step:    5,
			wantErr: true,
		},
		{
			name: "overlapping ranges",
			mutate: func(defs []StageDefinition) []StageDefinition {
				defs[2].MinPercentage = 3
				return defs
			},
			step:    5,
			wantErr: true,
		},
		{
			name:    "non-positive step",
			mutate:  func(defs []StageDefinition) []StageDefinition { return defs },
			step:    0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := make([]StageDefinition, len(valid))
			copy(defs, valid)

			_, err := NewStageEngine(tt.mutate(defs), tt.step)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStageEngine() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestStageEngine_Next(t *testing.T) {
	engine, err := NewStageEngine(DefaultStages(), 5)
	if err != nil {
		t.Fatalf("NewStageEngine() error = %v", err)
	}

	tests := []struct {
		from   Stage
		want   Stage
		wantOK bool
	}{
		{StageShadow, StageCanary, true},
		{StageCanary, StageExpansion, true},
		{StageExpansion, StageMajority, true},
		{StageMajority, StageFull, true},
		{StageFull, "", false},
		{StageRollback, "", false},
	}

	for _, tt := range tests {
		def, ok := engine.Next(tt.from)
		if ok != tt.wantOK {
			t.Errorf("Next(%q) ok = %t, want %t", tt.from, ok, tt.wantOK)
			continue
		}
		if ok && def.Name != tt.want {
			t.Errorf("Next(%q) = %q, want %q", tt.from, def.Name, tt.want)
		}
	}
}

func TestStageEngine_NextPercentage(t *testing.T) {
	engine, err := NewStageEngine(DefaultStages(), 5)
	if err != nil {
		t.Fatalf("NewStageEngine() error = %v", err)
	}

	canary, _ := engine.Definition(StageCanary)
	expansion, _ := engine.Definition(StageExpansion)

	tests := []struct {
		name    string
		def     StageDefinition
		current int
		want    int
	}{
		{"clamps to stage max", canary, 1, 5},
		{"holds at stage max", canary, 5, 5},
		{"linear step within bounds", expansion, 10, 15},
		{"raises below-range value to min", expansion, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.NextPercentage(tt.def, tt.current); got != tt.want {
				t.Errorf("NextPercentage(%q, %d) = %d, want %d", tt.def.Name, tt.current, got, tt.want)
			}
		})
	}
}

func TestStageValidate(t *testing.T) {
	for _, stage := range []Stage{StageShadow, StageCanary, StageExpansion, StageMajority, StageFull, StageRollback} {
		if err := stage.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v", stage, err)
		}
	}
	if err := Stage("beta").Validate(); err == nil {
		t.Error("Validate() accepted an unknown stage")
	}
}

func TestDefaultStages_MinStableDurations(t *testing.T) {
	engine, err := NewStageEngine(DefaultStages(), 5)
	if err != nil {
		t.Fatalf("NewStageEngine() error = %v", err)
	}

	full, _ := engine.Definition(StageFull)
	if full.MinStableDuration != 0 {
		t.Errorf("full MinStableDuration = %v, want 0", full.MinStableDuration)
	}

	canary, _ := engine.Definition(StageCanary)
	if canary.MinStableDuration < time.Hour {
		t.Errorf("canary MinStableDuration = %v, want at least an hour", canary.MinStableDuration)
	}
	if !canary.RequiresManualApproval {
		t.Error("canary must require manual approval")
	}
}
