package sipua

import (
	"context"
	"errors"

	"github.com/emiago/sipgo"

	"github.com/arzzra/webphone/pkg/engine"
)

// causeFromStatus причина завершения по финальному коду ответа.
func causeFromStatus(code int) string {
	switch code {
	case 486, 600:
		return engine.CauseBusy
	case 403, 603:
		return engine.CauseRejected
	case 404, 604:
		return engine.CauseNotFound
	case 410, 480:
		return engine.CauseUnavailable
	case 408:
		return engine.CauseRequestTimeout
	case 401, 407:
		return engine.CauseAuthenticationError
	case 487:
		return engine.CauseCanceled
	case 488, 606:
		return engine.CauseBadMediaDescription
	}
	return engine.CauseSIPFailure
}

// causeFromError причина по ошибке транзакции INVITE.
func causeFromError(err error) (engine.Originator, string) {
	var resErr *sipgo.ErrDialogResponse
	switch {
	case errors.As(err, &resErr) && resErr.Res != nil:
		return engine.OriginatorRemote, causeFromStatus(int(resErr.Res.StatusCode))
	case errors.Is(err, context.Canceled):
		return engine.OriginatorLocal, engine.CauseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return engine.OriginatorSystem, engine.CauseRequestTimeout
	}
	return engine.OriginatorSystem, engine.CauseConnectionError
}
