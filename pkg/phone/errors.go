package phone

import (
	"errors"
	"fmt"
)

// ErrorCategory категории ошибок контроллера
type ErrorCategory string

const (
	// Не хватает настроек: пользователь должен исправить их сам
	ErrorCategoryConfig ErrorCategory = "CONFIG"
	// Отказ сигнального движка: регистрация, звонок, удержание, перевод
	ErrorCategoryEngine ErrorCategory = "ENGINE"
	// Устройства и воспроизведение звука
	ErrorCategoryMedia ErrorCategory = "MEDIA"
	// Действие недоступно в текущем состоянии звонка
	ErrorCategoryState ErrorCategory = "STATE"
)

// String возвращает строковое представление категории ошибки
func (ec ErrorCategory) String() string {
	return string(ec)
}

// Error ошибка действия контроллера.
// Ни одна ошибка не повторяется автоматически.
type Error struct {
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Category    ErrorCategory `json:"category"`
	UserVisible bool          `json:"user_visible"`
	Cause       error         `json:"-"`
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// withCause возвращает копию ошибки с причиной. Сами sentinel'ы не меняются.
func (e *Error) withCause(cause error) *Error {
	out := *e
	out.Cause = cause
	return &out
}

func newError(code, message string, category ErrorCategory) *Error {
	return &Error{Code: code, Message: message, Category: category, UserVisible: true}
}

var (
	ErrIncompleteSettings = newError("INCOMPLETE_SETTINGS", "SIP username and WSS URI or SIP server are required", ErrorCategoryConfig)
	ErrNoSignalingTarget  = newError("NO_SIGNALING_TARGET", "WSS URI or SIP server must be set", ErrorCategoryConfig)
	ErrNotRegistered      = newError("NOT_REGISTERED", "SIP client is not registered", ErrorCategoryState)
	ErrAlreadyRegistered  = newError("ALREADY_REGISTERED", "already registered", ErrorCategoryState)
	ErrEmptyDestination   = newError("EMPTY_DESTINATION", "destination is empty", ErrorCategoryConfig)
	ErrNoSession          = newError("NO_SESSION", "no call in progress", ErrorCategoryState)
	ErrInvalidState       = newError("INVALID_STATE", "action is not available in the current call state", ErrorCategoryState)
	ErrCallInProgress     = newError("CALL_IN_PROGRESS", "a call is already in progress", ErrorCategoryState)

	ErrEngineInit   = newError("ENGINE_INIT_FAILED", "failed to initialize SIP client", ErrorCategoryEngine)
	ErrCallFailed   = newError("CALL_START_FAILED", "call could not be started", ErrorCategoryEngine)
	ErrAnswerFailed = newError("ANSWER_FAILED", "call could not be answered", ErrorCategoryEngine)
	ErrHoldFailed   = newError("HOLD_FAILED", "hold/unhold failed", ErrorCategoryEngine)
	ErrTransfer     = newError("TRANSFER_FAILED", "call transfer failed", ErrorCategoryEngine)
	ErrUnregister   = newError("UNREGISTER_FAILED", "unregister failed", ErrorCategoryEngine)

	ErrPlayback = newError("PLAYBACK_FAILED", "audio playback failed", ErrorCategoryMedia)
)

// CategoryOf категория ошибки контроллера или пустая строка.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
