package sipua

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/arzzra/webphone/pkg/engine"
)

const (
	answerTimeout    = 30 * time.Second
	terminateTimeout = 5 * time.Second
)

var (
	ErrSessionEnded     = errors.New("session already ended")
	ErrNotEstablished   = errors.New("session is not established")
	ErrNotIncoming      = errors.New("session is not incoming")
	ErrAlreadyAnswered  = errors.New("session already answered")
	ErrDialogNotCreated = errors.New("dialog is not created yet")
)

// Session звонок агента, реализация engine.Session.
type Session struct {
	id        string
	callID    string
	agent     *Agent
	direction engine.Direction
	remote    string
	log       *slog.Logger

	// offer тело входящего INVITE
	offer  []byte
	cancel context.CancelFunc

	mu          sync.Mutex
	cli         *sipgo.DialogClientSession
	srv         *sipgo.DialogServerSession
	peer        *peer
	answering   bool
	established bool
	confirmed   bool
	ended       bool
	hold        engine.HoldState
	done        chan struct{}
}

func newSession(a *Agent, dir engine.Direction, remote string) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		agent:     a,
		direction: dir,
		remote:    remote,
		log:       a.log.With(slog.String("session", id), slog.String("direction", string(dir))),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Direction() engine.Direction { return s.direction }
func (s *Session) RemoteIdentity() string      { return s.remote }

func (s *Session) IsEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established && !s.ended
}

func (s *Session) IsOnHold() engine.HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

func (s *Session) ref() engine.Ref { return engine.Ref{ID: s.id} }

func (s *Session) emit(ev engine.Event) { s.agent.emit(ev) }

// emitMedia события медиа идут только до завершения звонка.
func (s *Session) emitMedia(ev engine.Event) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if !ended {
		s.agent.emit(ev)
	}
}

// dial отправляет INVITE и ждет финального ответа.
func (s *Session) dial(ctx context.Context, uri sip.Uri) {
	offer, err := s.peer.offer(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(engine.OriginatorLocal, engine.CauseCanceled, err)
		} else {
			s.fail(engine.OriginatorSystem, engine.CauseInternalError, err)
		}
		return
	}

	req := s.agent.invite(uri, s.callID, offer)
	cli, err := s.agent.dialogCli.WriteInvite(ctx, req)
	if err != nil {
		orig, cause := causeFromError(err)
		s.fail(orig, cause, err)
		return
	}
	s.mu.Lock()
	s.cli = cli
	s.mu.Unlock()

	err = cli.WaitAnswer(ctx, sipgo.AnswerOptions{
		Username: s.agent.authUser(),
		Password: s.agent.cfg.Password,
		OnResponse: func(res *sip.Response) error {
			if code := int(res.StatusCode); code > 100 && code < 200 {
				s.emit(engine.Progress{Ref: s.ref(), StatusCode: code})
			}
			return nil
		},
	})
	if err != nil {
		orig, cause := causeFromError(err)
		s.fail(orig, cause, err)
		return
	}

	if err := s.peer.setAnswer(cli.InviteResponse.Body()); err != nil {
		_ = cli.Ack(ctx)
		_ = cli.Bye(ctx)
		s.fail(engine.OriginatorSystem, engine.CauseBadMediaDescription, err)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		// звонок отменен одновременно с ответом
		_ = cli.Ack(ctx)
		_ = cli.Bye(ctx)
		return
	}
	s.established = true
	s.mu.Unlock()

	s.emit(engine.Accepted{Ref: s.ref()})
	if err := cli.Ack(ctx); err != nil {
		s.log.Warn("send ack", slog.String("error", err.Error()))
	}
	s.confirm()
	s.peer.start()
}

// watchInvite завершает неотвеченный входящий звонок, если транзакция
// INVITE закончилась без нашего ответа.
func (s *Session) watchInvite(tx sip.ServerTransaction) {
	select {
	case <-tx.Done():
	case <-s.done:
		return
	}
	s.mu.Lock()
	pending := !s.answering && !s.established && !s.ended
	s.mu.Unlock()
	if pending {
		s.fail(engine.OriginatorRemote, engine.CauseCanceled, tx.Err())
	}
}

// Answer отвечает на входящий звонок. Ответ 200 уходит после сбора
// кандидатов, результат приходит событиями Accepted/Confirmed или Failed.
func (s *Session) Answer(opts engine.CallOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.direction != engine.DirectionIncoming:
		return ErrNotIncoming
	case s.ended:
		return ErrSessionEnded
	case s.answering || s.established:
		return ErrAlreadyAnswered
	}
	s.answering = true
	go s.answer(opts)
	return nil
}

func (s *Session) answer(opts engine.CallOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()

	p, err := newPeer(s.agent.media, s.agent.devices, opts, s.ref(), s.emitMedia, s.log)
	if err != nil {
		s.reject(480, "Temporarily Unavailable")
		s.fail(engine.OriginatorLocal, engine.CauseUserDeniedMedia, err)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		p.close()
		return
	}
	s.peer = p
	s.mu.Unlock()

	body, err := p.answer(ctx, s.offer)
	if err != nil {
		s.reject(488, "Not Acceptable Here")
		s.fail(engine.OriginatorLocal, engine.CauseBadMediaDescription, err)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.established = true
	srv := s.srv
	s.mu.Unlock()

	if err := srv.RespondSDP(body); err != nil {
		s.fail(engine.OriginatorSystem, engine.CauseConnectionError, err)
		return
	}
	s.emit(engine.Accepted{Ref: s.ref()})
	p.start()
}

func (s *Session) reject(code int, reason string) {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Respond(code, reason, nil); err != nil {
		s.log.Debug("reject", slog.Int("code", code), slog.String("error", err.Error()))
	}
}

// confirm отмечает получение или отправку ACK.
func (s *Session) confirm() {
	s.mu.Lock()
	if s.confirmed || !s.established || s.ended {
		s.mu.Unlock()
		return
	}
	s.confirmed = true
	s.mu.Unlock()
	s.emit(engine.Confirmed{Ref: s.ref()})
}

// Terminate завершает звонок в любом состоянии и не ждет сети:
// BYE для установленного, CANCEL для исходящего, отказ для входящего.
func (s *Session) Terminate(opts engine.TerminateOptions) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
		defer cancel()
		s.end(ctx, opts)
	}()
}

// end синхронная часть Terminate.
func (s *Session) end(ctx context.Context, opts engine.TerminateOptions) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	established := s.established
	s.mu.Unlock()

	switch {
	case established:
		if _, _, err := s.inDialog(ctx, sip.BYE, nil); err != nil {
			s.log.Warn("send bye", slog.String("error", err.Error()))
		}
		s.emit(engine.Ended{Ref: s.ref(), Originator: engine.OriginatorLocal, Cause: engine.CauseBye})

	case s.direction == engine.DirectionOutgoing:
		// WaitAnswer отправит CANCEL при отмене контекста
		if s.cancel != nil {
			s.cancel()
		}
		s.emit(engine.Failed{Ref: s.ref(), Originator: engine.OriginatorLocal, Cause: engine.CauseCanceled})

	default:
		code, reason := opts.StatusCode, opts.Reason
		if code == 0 {
			code, reason = 480, "Temporarily Unavailable"
		}
		if reason == "" {
			reason = "Decline"
		}
		s.reject(code, reason)
		s.emit(engine.Failed{Ref: s.ref(), Originator: engine.OriginatorLocal, Cause: engine.CauseRejected})
	}
	s.log.Info("terminated locally")
	s.release()
}

// fail завершает звонок с ошибкой, если он еще не завершен.
func (s *Session) fail(orig engine.Originator, cause string, err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	attrs := []any{slog.String("originator", string(orig)), slog.String("cause", cause)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.log.Info("call failed", attrs...)
	s.emit(engine.Failed{Ref: s.ref(), Originator: orig, Cause: cause})
	s.release()
}

func (s *Session) remoteCancel() {
	s.mu.Lock()
	skip := s.established || s.ended
	s.mu.Unlock()
	if skip {
		return
	}
	s.reject(487, "Request Terminated")
	s.fail(engine.OriginatorRemote, engine.CauseCanceled, nil)
}

func (s *Session) remoteBye() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	s.log.Info("ended by remote")
	s.emit(engine.Bye{Ref: s.ref()})
	s.emit(engine.Ended{Ref: s.ref(), Originator: engine.OriginatorRemote, Cause: engine.CauseBye})
	s.release()
}

// release освобождает медиа и диалог.
func (s *Session) release() {
	s.mu.Lock()
	p, cli, srv := s.peer, s.cli, s.srv
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if p != nil {
		p.close()
	}
	s.agent.untrack(s)
	if cli != nil {
		_ = cli.Close()
	}
	if srv != nil {
		_ = srv.Close()
	}
}

func (s *Session) Hold(ctx context.Context) error   { return s.setHold(ctx, true) }
func (s *Session) Unhold(ctx context.Context) error { return s.setHold(ctx, false) }

// setHold отправляет re-INVITE с sendonly или sendrecv.
func (s *Session) setHold(ctx context.Context, on bool) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if !s.established || s.peer == nil {
		s.mu.Unlock()
		return ErrNotEstablished
	}
	if s.hold.Local == on {
		s.mu.Unlock()
		return nil
	}
	p := s.peer
	s.mu.Unlock()

	dir := dirSendRecv
	if on {
		dir = dirSendOnly
	}
	body, err := withDirection(p.localSDP(), dir)
	if err != nil {
		return errors.Wrap(err, "hold sdp")
	}
	if err := s.reinvite(ctx, body); err != nil {
		return errors.Wrap(err, "re-INVITE")
	}
	p.setLocalSDP(body)

	s.mu.Lock()
	s.hold.Local = on
	muted := on || s.hold.Remote
	s.mu.Unlock()
	p.setMuted(muted)

	if on {
		s.emit(engine.Hold{Ref: s.ref(), Originator: engine.OriginatorLocal})
	} else {
		s.emit(engine.Unhold{Ref: s.ref(), Originator: engine.OriginatorLocal})
	}
	return nil
}

// reinvite отправляет INVITE внутри диалога и подтверждает 2xx.
func (s *Session) reinvite(ctx context.Context, body []byte) error {
	req, res, err := s.inDialog(ctx, sip.INVITE, body)
	if err != nil {
		return err
	}
	if code := int(res.StatusCode); code >= 300 {
		return &statusError{Code: code, Reason: res.Reason}
	}
	ack := s.agent.ackFor(req)
	s.mu.Lock()
	cli, srv := s.cli, s.srv
	s.mu.Unlock()
	switch {
	case cli != nil:
		err = cli.WriteRequest(ack)
	case srv != nil:
		err = srv.WriteRequest(ack)
	default:
		err = ErrDialogNotCreated
	}
	return errors.Wrap(err, "send ack")
}

// ackFor ACK на 2xx для INVITE внутри диалога. From, To и Call-ID
// заполняет диалог при отправке, CSeq совпадает с INVITE.
func (a *Agent) ackFor(invite *sip.Request) *sip.Request {
	ack := sip.NewRequest(sip.ACK, invite.Recipient)
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	a.endpoint.route(ack)
	return ack
}

// handleReinvite отвечает на re-INVITE удаленной стороны и сообщает
// об изменении удержания.
func (s *Session) handleReinvite(req *sip.Request, tx sip.ServerTransaction) {
	s.mu.Lock()
	p, established := s.peer, s.established
	s.mu.Unlock()
	if p == nil || !established {
		respond(tx, req, 491, "Request Pending")
		return
	}

	held, dir := false, dirSendRecv
	if len(req.Body()) > 0 {
		var err error
		if held, dir, err = remoteHold(req.Body()); err != nil {
			s.log.Warn("bad re-INVITE sdp", slog.String("error", err.Error()))
			respond(tx, req, 488, "Not Acceptable Here")
			return
		}
	}

	answer, err := withDirection(p.localSDP(), answerDirection(dir))
	if err != nil {
		respond(tx, req, 500, "Server Internal Error")
		return
	}
	p.setLocalSDP(answer)

	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	ct := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&ct)
	contact := s.agent.contact
	res.AppendHeader(&contact)
	if err := tx.Respond(res); err != nil {
		s.log.Warn("respond re-INVITE", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	changed := s.hold.Remote != held
	s.hold.Remote = held
	muted := held || s.hold.Local
	s.mu.Unlock()
	p.setMuted(muted)

	if !changed {
		return
	}
	if held {
		s.emit(engine.Hold{Ref: s.ref(), Originator: engine.OriginatorRemote})
	} else {
		s.emit(engine.Unhold{Ref: s.ref(), Originator: engine.OriginatorRemote})
	}
}

// Refer просит удаленную сторону перезвонить на target.
// Ход передачи приходит событиями ReferProgress.
func (s *Session) Refer(ctx context.Context, target string) error {
	s.mu.Lock()
	ok := s.established && !s.ended
	s.mu.Unlock()
	if !ok {
		return ErrNotEstablished
	}

	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return errors.Wrapf(err, "parse refer target %q", target)
	}
	_, res, err := s.inDialog(ctx, sip.REFER, nil,
		sip.NewHeader("Refer-To", "<"+uri.String()+">"),
		sip.NewHeader("Referred-By", "<"+s.agent.aor.String()+">"),
	)
	if err != nil {
		return errors.Wrap(err, "send REFER")
	}
	code := int(res.StatusCode)
	if code >= 300 {
		return errors.Wrap(&statusError{Code: code, Reason: res.Reason}, "REFER rejected")
	}
	s.emit(engine.ReferProgress{Ref: s.ref(), StatusCode: code, Reason: res.Reason})
	return nil
}

// inDialog отправляет запрос внутри диалога через адрес сигнализации агента.
func (s *Session) inDialog(ctx context.Context, method sip.RequestMethod, body []byte,
	hdrs ...sip.Header) (*sip.Request, *sip.Response, error) {
	s.mu.Lock()
	cli, srv := s.cli, s.srv
	s.mu.Unlock()

	req := sip.NewRequest(method, s.remoteTarget(cli, srv))
	for _, h := range hdrs {
		req.AppendHeader(h)
	}
	if method == sip.INVITE {
		contact := s.agent.contact
		req.AppendHeader(&contact)
	}
	if body != nil {
		ct := sip.ContentTypeHeader("application/sdp")
		req.AppendHeader(&ct)
		req.SetBody(body)
	}
	s.agent.endpoint.route(req)

	var (
		res *sip.Response
		err error
	)
	switch {
	case cli != nil:
		res, err = cli.Do(ctx, req)
	case srv != nil:
		res, err = srv.Do(ctx, req)
	default:
		return nil, nil, ErrDialogNotCreated
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "send %s", method)
	}
	return req, res, nil
}

// remoteTarget Contact удаленной стороны из INVITE или ответа на него.
func (s *Session) remoteTarget(cli *sipgo.DialogClientSession, srv *sipgo.DialogServerSession) sip.Uri {
	switch {
	case cli != nil && cli.InviteResponse != nil:
		if c := cli.InviteResponse.Contact(); c != nil {
			return c.Address
		}
		if to := cli.InviteResponse.To(); to != nil {
			return to.Address
		}
	case srv != nil && srv.InviteRequest != nil:
		if c := srv.InviteRequest.Contact(); c != nil {
			return c.Address
		}
		if from := srv.InviteRequest.From(); from != nil {
			return from.Address
		}
	}
	return s.agent.aor
}
