package engine

// Event событие движка. Набор реализаций закрыт.
type Event interface {
	Name() string
	isEvent()
}

// SessionEvent событие конкретной сессии.
type SessionEvent interface {
	Event
	SessionID() string
}

// События user agent.

type Connecting struct{}

type Connected struct{}

type Disconnected struct {
	Cause string
}

type Registered struct{}

type Unregistered struct {
	Cause string
}

type RegistrationFailed struct {
	Cause string
}

// NewSession новая сессия: входящая (Originator remote) или созданная
// вызовом Call (Originator local).
type NewSession struct {
	Session    Session
	Originator Originator
}

// NewMessage входящее SIP MESSAGE.
type NewMessage struct {
	From string
	Body string
}

func (Connecting) Name() string         { return "connecting" }
func (Connected) Name() string          { return "connected" }
func (Disconnected) Name() string       { return "disconnected" }
func (Registered) Name() string         { return "registered" }
func (Unregistered) Name() string       { return "unregistered" }
func (RegistrationFailed) Name() string { return "registrationFailed" }
func (NewSession) Name() string         { return "newRTCSession" }
func (NewMessage) Name() string         { return "newMessage" }

func (Connecting) isEvent()         {}
func (Connected) isEvent()          {}
func (Disconnected) isEvent()       {}
func (Registered) isEvent()         {}
func (Unregistered) isEvent()       {}
func (RegistrationFailed) isEvent() {}
func (NewSession) isEvent()         {}
func (NewMessage) isEvent()         {}

// Ref идентификатор сессии, встраивается в события сессии.
type Ref struct {
	ID string
}

func (r Ref) SessionID() string { return r.ID }

// События сессии.

// Progress предварительный ответ 1xx.
type Progress struct {
	Ref
	StatusCode int
}

type Accepted struct{ Ref }

type Confirmed struct{ Ref }

type Ended struct {
	Ref
	Originator Originator
	Cause      string
}

type Failed struct {
	Ref
	Originator Originator
	Cause      string
}

type Hold struct {
	Ref
	Originator Originator
}

type Unhold struct {
	Ref
	Originator Originator
}

// Bye удаленная сторона завершила звонок.
type Bye struct{ Ref }

// PeerConnection смена состояния WebRTC соединения.
type PeerConnection struct {
	Ref
	State string
}

type ICEConnectionState struct {
	Ref
	State string
}

// Track получен удаленный медиа трек.
type Track struct {
	Ref
	Kind string
}

// ReferProgress статус перевода из NOTIFY (message/sipfrag).
type ReferProgress struct {
	Ref
	StatusCode int
	Reason     string
}

func (Progress) Name() string           { return "progress" }
func (Accepted) Name() string           { return "accepted" }
func (Confirmed) Name() string          { return "confirmed" }
func (Ended) Name() string              { return "ended" }
func (Failed) Name() string             { return "failed" }
func (Hold) Name() string               { return "hold" }
func (Unhold) Name() string             { return "unhold" }
func (Bye) Name() string                { return "bye" }
func (PeerConnection) Name() string     { return "peerconnection" }
func (ICEConnectionState) Name() string { return "iceconnectionstatechange" }
func (Track) Name() string              { return "track" }
func (ReferProgress) Name() string      { return "referProgress" }

func (Progress) isEvent()           {}
func (Accepted) isEvent()           {}
func (Confirmed) isEvent()          {}
func (Ended) isEvent()              {}
func (Failed) isEvent()             {}
func (Hold) isEvent()               {}
func (Unhold) isEvent()             {}
func (Bye) isEvent()                {}
func (PeerConnection) isEvent()     {}
func (ICEConnectionState) isEvent() {}
func (Track) isEvent()              {}
func (ReferProgress) isEvent()      {}
