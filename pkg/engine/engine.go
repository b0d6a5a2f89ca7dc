// Package engine описывает контракт сигнального движка, которым пользуется
// контроллер звонков: user agent с регистрацией и сессии звонков.
//
// Движок сообщает о происходящем через Handler. Все события образуют закрытое
// множество типов (см. events.go), контроллер разбирает их type switch'ем.
package engine

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// Direction направление звонка
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Originator сторона, инициировавшая событие
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
	OriginatorSystem Originator = "system"
)

// Причины завершения и ошибок, которые сообщает движок.
const (
	CauseBye                 = "Terminated"
	CauseCanceled            = "Canceled"
	CauseRejected            = "Rejected"
	CauseBusy                = "Busy"
	CauseNotFound            = "Not Found"
	CauseUnavailable         = "Unavailable"
	CauseRequestTimeout      = "Request Timeout"
	CauseConnectionError     = "Connection Error"
	CauseAuthenticationError = "Authentication Error"
	CauseSIPFailure          = "SIP Failure Code"
	CauseUserDeniedMedia     = "User Denied Media Access"
	CauseBadMediaDescription = "Bad Media Description"
	CauseInternalError       = "Internal Error"
)

// HoldState флаги удержания по сторонам.
type HoldState struct {
	Local  bool
	Remote bool
}

// MediaConstraints ограничения локального медиа.
// Пустой AudioInputID означает устройство по умолчанию.
type MediaConstraints struct {
	Audio        bool
	Video        bool
	AudioInputID string
}

// CallOptions параметры исходящего звонка и ответа на входящий.
type CallOptions struct {
	Media         MediaConstraints
	ICEServers    []webrtc.ICEServer
	AudioOutputID string
}

// TerminateOptions код ответа для неотвеченного входящего звонка.
// Нулевое значение означает код движка по умолчанию.
type TerminateOptions struct {
	StatusCode int
	Reason     string
}

// Session один звонок.
//
// Answer и Terminate не блокируют: результат приходит событиями.
// Hold, Unhold и Refer ждут ответа удаленной стороны в пределах ctx.
type Session interface {
	ID() string
	Direction() Direction
	RemoteIdentity() string
	IsEstablished() bool
	IsOnHold() HoldState

	Answer(opts CallOptions) error
	Terminate(opts TerminateOptions)
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Refer(ctx context.Context, target string) error
}

// UserAgent сигнальный движок с одним соединением и одной регистрацией.
// Экземпляр не переконфигурируется: для новых настроек создается новый.
type UserAgent interface {
	Start() error
	Stop()
	Call(target string, opts CallOptions) (Session, error)
	Unregister() error
	IsRegistered() bool
	IsConnecting() bool
}

// Config параметры создания UserAgent.
type Config struct {
	// URI адрес регистрации, sip:user@domain
	URI string
	// SocketURI адрес WebSocket сигнализации (ws:// или wss://)
	SocketURI string
	Password  string
	// AuthorizationUser имя для digest авторизации, по умолчанию user из URI
	AuthorizationUser string
	DisplayName       string
	// OutboundProxy необязательный прокси, через который идут все запросы
	OutboundProxy string
	// RegistrarServer сервер регистрации, по умолчанию домен из URI
	RegistrarServer string
	UserAgent       string
	RegisterExpires time.Duration
}

// Handler получает события движка. Вызывается из горутин движка.
type Handler func(Event)

// Factory создает UserAgent для конфигурации.
type Factory func(cfg Config, h Handler) (UserAgent, error)
