package fit

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is wrapped when a fit attempts an illegal stage change.
var ErrInvalidTransition = errors.New("invalid stage transition")

// #region stage
// Stage is a step of the two-phase sampling protocol.
type Stage string

const (
	StageInitialized        Stage = "initialized"
	StageBurnIn             Stage = "burn_in"
	StageConvergenceChecked Stage = "convergence_checked"
	StageProduction         Stage = "production"
	StageSummarized         Stage = "summarized"
	StageFailed             Stage = "failed"
)

// transitions lists the legal successors of each stage. A checked burn-in
// either proceeds to production or is extended with another burn-in run.
var transitions = map[Stage][]Stage{
	StageInitialized:        {StageBurnIn, StageFailed},
	StageBurnIn:             {StageConvergenceChecked, StageFailed},
	StageConvergenceChecked: {StageProduction, StageBurnIn, StageFailed},
	StageProduction:         {StageSummarized, StageFailed},
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageSummarized || s == StageFailed
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Stage) bool {
	return slices.Contains(transitions[from], to)
}

// #endregion stage

// #region machine
// Machine tracks the stage of one fit and records every stage entered.
type Machine struct {
	stage   Stage
	history []Stage
}

// NewMachine starts in StageInitialized.
func NewMachine() *Machine {
	return &Machine{stage: StageInitialized, history: []Stage{StageInitialized}}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	return m.stage
}

// History returns the stages entered so far, in order.
func (m *Machine) History() []Stage {
	return slices.Clone(m.history)
}

// Advance moves to the next stage.
func (m *Machine) Advance(to Stage) error {
	if !CanTransition(m.stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.stage, to)
	}
	m.stage = to
	m.history = append(m.history, to)
	return nil
}

// #endregion machine
