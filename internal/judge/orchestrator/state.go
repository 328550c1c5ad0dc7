package orchestrator

import (
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// EventKind names what happened to a submission.
type EventKind string

const (
	EventAdmit         EventKind = "Admit"
	EventCompiled      EventKind = "Compiled"
	EventCompileFailed EventKind = "CompileFailed"
	EventEvaluated     EventKind = "Evaluated"
	EventFault         EventKind = "Fault"
)

// Event is the input of Transition. Verdict is set for CompileFailed and
// Evaluated, Message for Fault, Total for Compiled.
type Event struct {
	Kind    EventKind
	Verdict model.StatusUpdate
	Message string
	Total   int
}

// EffectKind names work the caller performs after a transition.
type EffectKind string

const (
	EffectPersist  EffectKind = "Persist"
	EffectCompile  EffectKind = "Compile"
	EffectEvaluate EffectKind = "Evaluate"
	EffectNotify   EffectKind = "Notify"
)

// Effect is one side effect, executed in order. Update is set for Persist.
type Effect struct {
	Kind   EffectKind
	Update model.StatusUpdate
}

// Step is the result of a transition.
type Step struct {
	Next    model.Status
	Effects []Effect
}

// Transition is the submission state machine. It performs no I/O.
//
//	Pending   --Admit-->         Compiling
//	Compiling --Admit-->         Compiling (resume)
//	Running   --Admit-->         Running   (resume, recompiles)
//	Compiling --Compiled-->      Running
//	Running   --Compiled-->      Running   (resumed run)
//	Compiling --CompileFailed--> CompilationError
//	Running   --CompileFailed--> CompilationError (resumed run)
//	Running   --Evaluated-->     terminal verdict
//	active    --Fault-->         Error
func Transition(state model.Status, ev Event) (Step, error) {
	if state.IsTerminal() {
		return Step{}, invalid(state, ev)
	}
	switch ev.Kind {
	case EventAdmit:
		switch state {
		case model.StatusPending:
			return Step{Next: model.StatusCompiling, Effects: []Effect{
				persist(model.StatusUpdate{Status: model.StatusCompiling}),
				{Kind: EffectCompile},
			}}, nil
		case model.StatusCompiling, model.StatusRunning:
			return Step{Next: state, Effects: []Effect{{Kind: EffectCompile}}}, nil
		}
	case EventCompiled:
		switch state {
		case model.StatusCompiling:
			return Step{Next: model.StatusRunning, Effects: []Effect{
				persist(model.StatusUpdate{Status: model.StatusRunning, TotalTestCases: ev.Total}),
				{Kind: EffectEvaluate},
			}}, nil
		case model.StatusRunning:
			return Step{Next: model.StatusRunning, Effects: []Effect{{Kind: EffectEvaluate}}}, nil
		}
	case EventCompileFailed:
		if state == model.StatusCompiling || state == model.StatusRunning {
			if ev.Verdict.Status != model.StatusCompilationError {
				return Step{}, invalid(state, ev)
			}
			return final(ev.Verdict), nil
		}
	case EventEvaluated:
		if state == model.StatusRunning {
			if !ev.Verdict.Status.IsTerminal() || ev.Verdict.Status == model.StatusCompilationError {
				return Step{}, invalid(state, ev)
			}
			return final(ev.Verdict), nil
		}
	case EventFault:
		update := model.StatusUpdate{
			Status:         model.StatusError,
			ErrorMessage:   ev.Message,
			TotalTestCases: ev.Total,
		}
		if update.ErrorMessage == "" {
			update.ErrorMessage = "internal judge error"
		}
		return final(update), nil
	}
	return Step{}, invalid(state, ev)
}

func persist(update model.StatusUpdate) Effect {
	return Effect{Kind: EffectPersist, Update: update}
}

func final(update model.StatusUpdate) Step {
	return Step{Next: update.Status, Effects: []Effect{persist(update), {Kind: EffectNotify}}}
}

func invalid(state model.Status, ev Event) error {
	return appErr.Newf(appErr.InvalidStateTransition, "invalid transition: %s on %s", ev.Kind, state)
}
