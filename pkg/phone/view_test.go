package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arzzra/webphone/pkg/engine"
	"github.com/arzzra/webphone/pkg/phone"
)

func TestAffordances(t *testing.T) {
	tests := []struct {
		name string
		snap phone.Snapshot
		want phone.View
	}{
		{
			name: "idle without settings",
			snap: phone.Snapshot{Phase: phone.PhaseIdle},
			want: phone.View{Phase: phone.PhaseIdle, HoldLabel: phone.HoldLabel},
		},
		{
			name: "idle with settings",
			snap: phone.Snapshot{Phase: phone.PhaseIdle, SettingsValid: true},
			want: phone.View{Phase: phone.PhaseIdle, CanRegister: true, HoldLabel: phone.HoldLabel},
		},
		{
			name: "connecting",
			snap: phone.Snapshot{Phase: phone.PhaseIdle, SettingsValid: true, Connecting: true},
			want: phone.View{Phase: phone.PhaseIdle, Connecting: true, CanUnregister: true, HoldLabel: phone.HoldLabel},
		},
		{
			name: "registered idle",
			snap: phone.Snapshot{Phase: phone.PhaseIdle, SettingsValid: true, Registered: true},
			want: phone.View{
				Phase: phone.PhaseIdle, Registered: true,
				CanUnregister: true, CanStartCall: true, HoldLabel: phone.HoldLabel,
			},
		},
		{
			name: "incoming ringing",
			snap: phone.Snapshot{Phase: phone.PhaseRingingIn, Registered: true, SettingsValid: true, Direction: engine.DirectionIncoming},
			want: phone.View{
				Phase: phone.PhaseRingingIn, Direction: engine.DirectionIncoming, Registered: true,
				CanAnswer: true, CanReject: true, CanEnd: true, HoldLabel: phone.HoldLabel,
			},
		},
		{
			name: "outgoing ringing",
			snap: phone.Snapshot{Phase: phone.PhaseRingingOut, Registered: true, Direction: engine.DirectionOutgoing},
			want: phone.View{
				Phase: phone.PhaseRingingOut, Direction: engine.DirectionOutgoing, Registered: true,
				CanEnd: true, HoldLabel: phone.HoldLabel,
			},
		},
		{
			name: "established",
			snap: phone.Snapshot{Phase: phone.PhaseEstablished, Registered: true, Direction: engine.DirectionOutgoing, HoldLabel: phone.HoldLabel},
			want: phone.View{
				Phase: phone.PhaseEstablished, Direction: engine.DirectionOutgoing, Registered: true,
				CanEnd: true, CanHold: true, CanTransfer: true, HoldLabel: phone.HoldLabel,
			},
		},
		{
			name: "on hold",
			snap: phone.Snapshot{Phase: phone.PhaseOnHold, Registered: true, Direction: engine.DirectionIncoming, HoldLabel: phone.UnholdLabel},
			want: phone.View{
				Phase: phone.PhaseOnHold, Direction: engine.DirectionIncoming, Registered: true,
				CanEnd: true, CanHold: true, HoldLabel: phone.UnholdLabel,
			},
		},
		{
			name: "label resets outside of call",
			snap: phone.Snapshot{Phase: phone.PhaseIdle, HoldLabel: phone.UnholdLabel},
			want: phone.View{Phase: phone.PhaseIdle, HoldLabel: phone.HoldLabel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, phone.Affordances(tt.snap))
		})
	}
}

// TestAffordancesNeverOfferRegisterDuringCall регистрация недоступна при звонке
func TestAffordancesNeverOfferRegisterDuringCall(t *testing.T) {
	for _, p := range []phone.Phase{phone.PhaseRingingIn, phone.PhaseRingingOut, phone.PhaseEstablished, phone.PhaseOnHold} {
		for _, registered := range []bool{false, true} {
			v := phone.Affordances(phone.Snapshot{Phase: p, Registered: registered, SettingsValid: true})
			assert.False(t, v.CanRegister, p)
			assert.False(t, v.CanUnregister, p)
			assert.False(t, v.CanStartCall, p)
			assert.True(t, v.CanEnd, p)
		}
	}
}
