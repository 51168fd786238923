package entity

import "strings"

type Decision string

const (
	DecisionDone      Decision = "DONE"
	DecisionContinue  Decision = "CONTINUE"
	DecisionUserInput Decision = "USER_INPUT"
)

// ParseDecision normalises case and surrounding whitespace. The second return
// is false for anything outside the three known decisions.
func ParseDecision(s string) (Decision, bool) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DecisionDone, DecisionContinue, DecisionUserInput:
		return d, true
	}
	return d, false
}

type ReflectionVerdict struct {
	Decision    Decision
	Instruction string
}

func (v ReflectionVerdict) String() string {
	if v.Instruction == "" {
		return string(v.Decision)
	}
	return string(v.Decision) + ": " + v.Instruction
}
