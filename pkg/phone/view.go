package phone

import "github.com/arzzra/webphone/pkg/engine"

// Phase фаза жизненного цикла звонка
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseRingingOut  Phase = "ringing_out"
	PhaseRingingIn   Phase = "ringing_in"
	PhaseEstablished Phase = "established"
	PhaseOnHold      Phase = "on_hold"
	PhaseTerminated  Phase = "terminated"
)

// Подписи кнопки удержания.
const (
	HoldLabel   = "Hold"
	UnholdLabel = "Unhold"
)

// Snapshot входные данные для расчета доступных действий.
type Snapshot struct {
	Registered    bool
	Connecting    bool
	SettingsValid bool
	Phase         Phase
	Direction     engine.Direction
	HoldLabel     string
}

// View доступные действия и состояние для интерфейса.
type View struct {
	Phase      Phase            `json:"phase"`
	Direction  engine.Direction `json:"direction,omitempty"`
	Remote     string           `json:"remote,omitempty"`
	Registered bool             `json:"registered"`
	Connecting bool             `json:"connecting"`

	CanRegister   bool `json:"canRegister"`
	CanUnregister bool `json:"canUnregister"`
	CanStartCall  bool `json:"canStartCall"`
	CanAnswer     bool `json:"canAnswer"`
	CanReject     bool `json:"canReject"`
	CanEnd        bool `json:"canEnd"`
	CanHold       bool `json:"canHold"`
	CanTransfer   bool `json:"canTransfer"`

	HoldLabel           string `json:"holdLabel"`
	Status              string `json:"status"`
	AudioUnlockRequired bool   `json:"audioUnlockRequired"`
}

// HasSession есть ли звонок в фазе, отличной от idle и terminated.
func (p Phase) HasSession() bool {
	return p != PhaseIdle && p != PhaseTerminated && p != ""
}

// Affordances чистая функция: состояние регистрации и звонка -> набор действий.
func Affordances(s Snapshot) View {
	hasSession := s.Phase.HasSession()
	established := s.Phase == PhaseEstablished || s.Phase == PhaseOnHold

	label := s.HoldLabel
	if label == "" || !established {
		label = HoldLabel
	}

	v := View{
		Phase:      s.Phase,
		Registered: s.Registered,
		Connecting: s.Connecting,

		CanRegister:   !s.Registered && !s.Connecting && s.SettingsValid && !hasSession,
		CanUnregister: (s.Registered || s.Connecting) && !hasSession,
		CanStartCall:  s.Registered && !hasSession,
		CanAnswer:     s.Phase == PhaseRingingIn,
		CanReject:     s.Phase == PhaseRingingIn,
		CanEnd:        hasSession,
		CanHold:       established,
		CanTransfer:   s.Phase == PhaseEstablished,

		HoldLabel: label,
	}
	if hasSession {
		v.Direction = s.Direction
	}
	if v.Phase == "" {
		v.Phase = PhaseIdle
	}
	return v
}
