package pipeline

import "github.com/baebong3/fruitbasket-legal/internal/model"

// stages is the fixed forward order of a run.
var stages = []model.RunState{
	model.StateIdle,
	model.StateCollecting,
	model.StateCleaning,
	model.StateNormalizing,
	model.StateAggregating,
	model.StateAnalyzing,
	model.StateComparing,
	model.StateCommitting,
	model.StateCompleted,
}

func stageIndex(s model.RunState) int {
	for i, st := range stages {
		if st == s {
			return i
		}
	}
	return -1
}

// canAdvance reports whether a run in from may move to to. Forward moves are
// one stage at a time. PartiallyFailed is reachable only from a working
// stage; Aborted from any non-terminal state.
func canAdvance(from, to model.RunState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case model.StateAborted:
		return true
	case model.StatePartiallyFailed:
		return from != model.StateIdle && from != model.StateCommitting
	}
	i, j := stageIndex(from), stageIndex(to)
	return i >= 0 && j == i+1
}

// advance moves rep to the next state, recording the transition.
func advance(rep *model.RunReport, to model.RunState) error {
	if !canAdvance(rep.State, to) {
		return &TransitionError{From: rep.State, To: to}
	}
	rep.State = to
	rep.Transitions = append(rep.Transitions, to)
	return nil
}
