package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"

	"github.com/arzzra/webphone/pkg/engine"
)

const defaultRegisterExpires = 600 * time.Second

// statusError финальный неуспешный ответ на запрос.
type statusError struct {
	Code   int
	Reason string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

// registration цикл REGISTER одного агента: начальная регистрация,
// обновление на половине срока и снятие регистрации по запросу.
// Повторных попыток после ошибки нет.
type registration struct {
	a         *Agent
	registrar sip.Uri
	callID    string
	cseq      atomic.Uint32
	expires   time.Duration

	unregister chan struct{}
	connected  atomic.Bool
}

func newRegistration(a *Agent, registrar sip.Uri, expires time.Duration) *registration {
	if expires <= 0 {
		expires = defaultRegisterExpires
	}
	return &registration{
		a:          a,
		registrar:  registrar,
		callID:     sip.RandString(32),
		expires:    expires,
		unregister: make(chan struct{}, 1),
	}
}

func (r *registration) run(ctx context.Context) {
	for {
		granted, err := r.send(ctx, r.expires)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.fail(err)
			return
		}

		r.a.connecting.Store(false)
		r.a.registered.Store(true)
		r.a.log.Info("registered", slog.String("aor", r.a.aor.String()), slog.Duration("expires", granted))
		r.a.emit(engine.Registered{})

		timer := time.NewTimer(max(granted/2, time.Second))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.unregister:
			timer.Stop()
			r.remove(ctx)
			return
		case <-timer.C:
		}
	}
}

// remove отправляет REGISTER с Expires: 0.
func (r *registration) remove(ctx context.Context) {
	r.a.registered.Store(false)
	if _, err := r.send(ctx, 0); err != nil {
		r.a.log.Warn("unregister failed", slog.String("error", err.Error()))
		r.a.emit(engine.Unregistered{Cause: causeOfRegisterError(err)})
		return
	}
	r.a.emit(engine.Unregistered{})
}

func (r *registration) fail(err error) {
	r.a.connecting.Store(false)
	r.a.registered.Store(false)
	r.a.log.Warn("registration failed", slog.String("error", err.Error()))

	cause := causeOfRegisterError(err)
	if cause == engine.CauseConnectionError {
		r.a.emit(engine.Disconnected{Cause: cause})
	}
	r.a.emit(engine.RegistrationFailed{Cause: cause})
}

func causeOfRegisterError(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return causeFromStatus(se.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.CauseRequestTimeout
	}
	return engine.CauseConnectionError
}

// send выполняет REGISTER с ответом на digest вызов и возвращает
// выданный сервером срок регистрации.
func (r *registration) send(ctx context.Context, expires time.Duration) (time.Duration, error) {
	req := r.request(expires)
	res, err := r.a.client.Do(ctx, req)
	if err != nil {
		return 0, errors.Wrap(err, "send REGISTER")
	}
	r.markConnected()

	if code := int(res.StatusCode); code == 401 || code == 407 {
		req, err = r.authorize(req, res)
		if err != nil {
			return 0, err
		}
		res, err = r.a.client.Do(ctx, req)
		if err != nil {
			return 0, errors.Wrap(err, "send authorized REGISTER")
		}
	}

	if code := int(res.StatusCode); code < 200 || code >= 300 {
		return 0, &statusError{Code: int(res.StatusCode), Reason: res.Reason}
	}
	return grantedExpires(res, expires), nil
}

func (r *registration) markConnected() {
	if r.connected.CompareAndSwap(false, true) {
		r.a.emit(engine.Connected{})
	}
}

func (r *registration) request(expires time.Duration) *sip.Request {
	a := r.a
	req := sip.NewRequest(sip.REGISTER, r.registrar)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: a.cfg.DisplayName,
		Address:     a.aor,
		Params:      sip.HeaderParams{"tag": sip.RandString(8)},
	})
	req.AppendHeader(&sip.ToHeader{
		Address: a.aor,
		Params:  sip.HeaderParams{},
	})
	callID := sip.CallIDHeader(r.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq.Add(1), MethodName: sip.REGISTER})
	contact := a.contact
	req.AppendHeader(&contact)
	exp := sip.ExpiresHeader(uint32(expires / time.Second))
	req.AppendHeader(&exp)
	if a.cfg.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", a.cfg.UserAgent))
	}
	a.endpoint.route(req)
	return req
}

// authorize строит повтор запроса с Authorization или Proxy-Authorization.
func (r *registration) authorize(req *sip.Request, res *sip.Response) (*sip.Request, error) {
	challengeName, credName := "WWW-Authenticate", "Authorization"
	if int(res.StatusCode) == 407 {
		challengeName, credName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(challengeName)
	if h == nil || r.a.cfg.Password == "" {
		return nil, &statusError{Code: int(res.StatusCode), Reason: res.Reason}
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, errors.Wrapf(err, "parse challenge %q", h.Value())
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: r.a.authUser(),
		Password: r.a.cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "digest")
	}

	next := req.Clone()
	next.RemoveHeader("Via")
	next.RemoveHeader(credName)
	if cseq := next.CSeq(); cseq != nil {
		cseq.SeqNo = r.cseq.Add(1)
	}
	next.AppendHeader(sip.NewHeader(credName, cred.String()))
	r.a.endpoint.route(next)
	return next, nil
}

// grantedExpires срок из Expires ответа или параметра expires в Contact.
func grantedExpires(res *sip.Response, requested time.Duration) time.Duration {
	if c := res.Contact(); c != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return requested
}
