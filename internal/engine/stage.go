// Package engine drives the multi-stage proof pipeline for one withdrawal
// attempt.
//
// Stages run in strict forward order with no skipping:
//
//	idle -> nullifier -> merkle -> state_root -> witness -> proving
//	     -> verifying -> submitting -> complete | error
//
// Each non-terminal stage performs one bounded unit of work. Any failure
// moves the session to error immediately. The engine itself stops after
// verifying; the submitting transition and the terminal outcome are driven
// by the spend coordinator.
package engine

// Stage identifies the session's position in the pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StageNullifier
	StageMerkle
	StageStateRoot
	StageWitness
	StageProving
	StageVerifying
	StageSubmitting
	StageComplete
	StageError
)

var stageNames = map[Stage]string{
	StageIdle:       "idle",
	StageNullifier:  "nullifier",
	StageMerkle:     "merkle",
	StageStateRoot:  "state_root",
	StageWitness:    "witness",
	StageProving:    "proving",
	StageVerifying:  "verifying",
	StageSubmitting: "submitting",
	StageComplete:   "complete",
	StageError:      "error",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the stage ends the session.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}
