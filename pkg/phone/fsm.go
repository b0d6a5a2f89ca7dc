package phone

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
)

// События машины состояний звонка.
const (
	evDial      = "dial"
	evIncoming  = "incoming"
	evEstablish = "establish"
	evHold      = "hold"
	evUnhold    = "unhold"
	evTerminate = "terminate"
	evReset     = "reset"
)

// callStates машина состояний звонка:
//
//	idle -> ringing_out|ringing_in -> established <-> on_hold -> terminated -> idle
//
// terminated проходится всегда: из него reset возвращает в idle.
type callStates struct {
	fsm *fsm.FSM
	log *slog.Logger
}

func newCallStates(log *slog.Logger, onTransition func(from, to string)) *callStates {
	active := []string{string(PhaseRingingOut), string(PhaseRingingIn), string(PhaseEstablished), string(PhaseOnHold)}

	cs := &callStates{log: log}
	cs.fsm = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(PhaseIdle)}, Dst: string(PhaseRingingOut)},
			{Name: evIncoming, Src: []string{string(PhaseIdle)}, Dst: string(PhaseRingingIn)},
			{Name: evEstablish, Src: []string{string(PhaseRingingOut), string(PhaseRingingIn)}, Dst: string(PhaseEstablished)},
			{Name: evHold, Src: []string{string(PhaseEstablished)}, Dst: string(PhaseOnHold)},
			{Name: evUnhold, Src: []string{string(PhaseOnHold)}, Dst: string(PhaseEstablished)},
			{Name: evTerminate, Src: active, Dst: string(PhaseTerminated)},
			{Name: evReset, Src: []string{string(PhaseTerminated)}, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(e.Src, e.Dst)
				}
			},
		},
	)
	return cs
}

func (cs *callStates) phase() Phase {
	return Phase(cs.fsm.Current())
}

func (cs *callStates) can(event string) bool {
	return cs.fsm.Can(event)
}

// fire выполняет событие, если оно допустимо в текущем состоянии.
func (cs *callStates) fire(event string) bool {
	if !cs.fsm.Can(event) {
		return false
	}
	if err := cs.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			cs.log.Warn("call state transition failed", slog.String("event", event), slog.Any("error", err))
		}
		return false
	}
	return true
}

// release переводит звонок в terminated и сразу в idle.
func (cs *callStates) release() {
	cs.fire(evTerminate)
	cs.fire(evReset)
}
