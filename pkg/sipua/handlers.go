package sipua

import (
	"log/slog"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/webphone/pkg/engine"
)

const allowedMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS, REFER, NOTIFY, MESSAGE"

// initServerHandlers регистрирует обработчики входящих запросов.
func (a *Agent) initServerHandlers() {
	a.server.OnInvite(a.onInvite)
	a.server.OnAck(a.onAck)
	a.server.OnCancel(a.onCancel)
	a.server.OnBye(a.onBye)
	a.server.OnNotify(a.onNotify)
	a.server.OnMessage(a.onMessage)
	a.server.OnOptions(a.onOptions)
	a.server.OnRefer(func(req *sip.Request, tx sip.ServerTransaction) {
		// передача звонка на нас не поддерживается
		respond(tx, req, 405, "Method Not Allowed")
	})
}

func respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		slog.Debug("respond failed", slog.Int("code", code), slog.String("error", err.Error()))
	}
}

func (a *Agent) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	if to := req.To(); to != nil {
		if _, ok := to.Params.Get("tag"); ok {
			a.onReinvite(req, tx)
			return
		}
	}

	dlg, err := a.dialogSrv.ReadInvite(req, tx)
	if err != nil {
		a.log.Warn("read invite", slog.String("error", err.Error()))
		respond(tx, req, 400, "Bad Request")
		return
	}

	s := newSession(a, engine.DirectionIncoming, remoteIdentity(req))
	s.callID = req.CallID().Value()
	s.srv = dlg
	s.offer = req.Body()
	a.track(s)

	if err := dlg.Respond(180, "Ringing", nil); err != nil {
		a.log.Warn("send ringing", slog.String("error", err.Error()))
	}
	s.log.Info("incoming call", slog.String("from", s.remote), slog.String("display_name", displayName(req)))
	a.emit(engine.NewSession{Session: s, Originator: engine.OriginatorRemote})

	go s.watchInvite(tx)
}

func (a *Agent) onReinvite(req *sip.Request, tx sip.ServerTransaction) {
	s := a.lookup(req)
	if s == nil {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	s.handleReinvite(req, tx)
}

func (a *Agent) onAck(req *sip.Request, tx sip.ServerTransaction) {
	if err := a.dialogSrv.ReadAck(req, tx); err != nil {
		a.log.Debug("ack outside of dialog", slog.String("error", err.Error()))
	}
	if s := a.lookup(req); s != nil {
		s.confirm()
	}
}

func (a *Agent) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	s := a.lookup(req)
	if s == nil {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	respond(tx, req, 200, "OK")
	s.remoteCancel()
}

func (a *Agent) onBye(req *sip.Request, tx sip.ServerTransaction) {
	if err := a.dialogSrv.ReadBye(req, tx); err != nil {
		if err := a.dialogCli.ReadBye(req, tx); err != nil {
			respond(tx, req, 481, "Call/Transaction Does Not Exist")
			return
		}
	}
	if s := a.lookup(req); s != nil {
		s.remoteBye()
	}
}

func (a *Agent) onNotify(req *sip.Request, tx sip.ServerTransaction) {
	respond(tx, req, 200, "OK")

	event := req.GetHeader("Event")
	if event == nil || !isReferEvent(event.Value()) {
		return
	}
	s := a.lookup(req)
	if s == nil {
		return
	}
	code, reason := parseSipfrag(req.Body())
	if code == 0 {
		return
	}
	s.log.Info("transfer progress", slog.Int("code", code), slog.String("reason", reason))
	a.emit(engine.ReferProgress{Ref: s.ref(), StatusCode: code, Reason: reason})
}

func (a *Agent) onMessage(req *sip.Request, tx sip.ServerTransaction) {
	respond(tx, req, 200, "OK")
	a.emit(engine.NewMessage{From: remoteIdentity(req), Body: string(req.Body())})
}

func (a *Agent) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	if err := tx.Respond(res); err != nil {
		a.log.Debug("respond options", slog.String("error", err.Error()))
	}
}

// remoteIdentity адрес user@host из From, без отображаемого имени.
func remoteIdentity(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return ""
	}
	if from.Address.User == "" {
		return from.Address.Host
	}
	return from.Address.User + "@" + from.Address.Host
}

// displayName отображаемое имя из From для журнала.
func displayName(req *sip.Request) string {
	if from := req.From(); from != nil {
		return from.DisplayName
	}
	return ""
}
