package domain

import (
	"errors"
	"testing"
)

func TestFindPhase(t *testing.T) {
	phases := []Phase{
		{ID: "parser", Branch: "phase/parser"},
		{ID: "render", Branch: "phase/render"},
	}

	if got := FindPhase(phases, "render"); got != 1 {
		t.Errorf("FindPhase(render) = %d, want 1", got)
	}
	if got := FindPhase(phases, "missing"); got != -1 {
		t.Errorf("FindPhase(missing) = %d, want -1", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		phases  []Phase
		wantErr bool
	}{
		{
			name: "valid",
			phases: []Phase{
				{ID: "parser", Branch: "phase/parser"},
				{ID: "render", Branch: "phase/render"},
			},
		},
		{
			name:    "empty list",
			phases:  nil,
			wantErr: true,
		},
		{
			name: "duplicate id",
			phases: []Phase{
				{ID: "parser", Branch: "phase/parser"},
				{ID: "parser", Branch: "phase/parser2"},
			},
			wantErr: true,
		},
		{
			name: "duplicate branch",
			phases: []Phase{
				{ID: "parser", Branch: "phase/shared"},
				{ID: "render", Branch: "phase/shared"},
			},
			wantErr: true,
		},
		{
			name: "empty branch",
			phases: []Phase{
				{ID: "parser", Branch: ""},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.phases)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSkipError(t *testing.T) {
	cause := errors.New("remote rejected")
	err := SkipWrap("push failed", cause)

	se, ok := AsSkip(err)
	if !ok {
		t.Fatal("AsSkip() = false, want true")
	}
	if se.Reason != "push failed" {
		t.Errorf("Reason = %q, want %q", se.Reason, "push failed")
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}

	if _, ok := AsSkip(errors.New("plain")); ok {
		t.Error("AsSkip(plain error) = true, want false")
	}
}

func TestSkippedResult(t *testing.T) {
	res := Skipped("parser", "zero implementation commits")
	if res.Completed() {
		t.Error("skip result reports Completed() = true")
	}
	if res.SkipReason != "zero implementation commits" {
		t.Errorf("SkipReason = %q", res.SkipReason)
	}
}
