package phone

import (
	"fmt"
	"log/slog"

	"github.com/arzzra/webphone/pkg/engine"
)

// HandleEvent обрабатывает событие текущего движка синхронно.
// Используется, когда события доставляются не через Run.
func (c *Controller) HandleEvent(ev engine.Event) {
	c.mu.Lock()
	gen := c.uaGen
	c.mu.Unlock()
	c.dispatch(queuedEvent{gen: gen, ev: ev})
}

func (c *Controller) dispatch(q queuedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q.gen != c.uaGen || c.ua == nil {
		c.log.Debug("event from stopped agent ignored", slog.String("event", q.ev.Name()))
		return
	}

	if sev, ok := q.ev.(engine.SessionEvent); ok {
		if c.call == nil || c.call.session.ID() != sev.SessionID() {
			c.log.Debug("event for superseded session ignored",
				slog.String("event", q.ev.Name()), slog.String("session", sev.SessionID()))
			return
		}
		c.handleSessionEvent(q.ev)
	} else {
		c.handleAgentEvent(q.ev)
	}
	c.refreshView()
}

func (c *Controller) handleAgentEvent(ev engine.Event) {
	switch e := ev.(type) {
	case engine.Connecting:
		c.setStatus("Connecting to SIP server...")

	case engine.Connected:
		c.setStatus("Connected to SIP server. Registering...")

	case engine.Disconnected:
		c.setStatus("Disconnected from SIP server. Cause: " + causeOrUnknown(e.Cause))
		// входящий звонок без ответа не переживает потерю соединения
		if c.call != nil && c.states.phase() == PhaseRingingIn {
			c.call.session.Terminate(engine.TerminateOptions{})
			c.releaseCallLocked()
		}

	case engine.Registered:
		c.opts.Metrics.registration("registered")
		c.setStatus("SIP Registered")

	case engine.Unregistered:
		c.opts.Metrics.registration("unregistered")
		if e.Cause != "" {
			c.setStatus("SIP Unregistered: " + e.Cause)
		} else {
			c.setStatus("SIP Unregistered")
		}

	case engine.RegistrationFailed:
		c.opts.Metrics.registration("failed")
		c.setStatus("SIP Registration Failed: " + causeOrUnknown(e.Cause))

	case engine.NewSession:
		c.handleNewSession(e)

	case engine.NewMessage:
		msg := fmt.Sprintf("New message from %s: %s", e.From, e.Body)
		c.logLine("SIP Message: " + msg)
		c.alert(msg)

	default:
		c.log.Debug("unhandled agent event", slog.String("event", ev.Name()))
	}
}

func (c *Controller) handleNewSession(e engine.NewSession) {
	if e.Session == nil {
		return
	}
	// исходящий звонок уже установлен в StartCall
	if c.call != nil && c.call.session.ID() == e.Session.ID() {
		c.opts.Ringtone.Stop()
		return
	}
	if e.Originator != engine.OriginatorRemote {
		c.log.Debug("local session not started by controller ignored", slog.String("session", e.Session.ID()))
		return
	}

	c.installCallLocked(e.Session, engine.DirectionIncoming)
	c.setStatus("Incoming call from " + e.Session.RemoteIdentity())
	c.playRingtoneLocked()
}

func (c *Controller) handleSessionEvent(ev engine.Event) {
	switch e := ev.(type) {
	case engine.Progress:
		c.setStatus("Calling (Ringing)...")

	case engine.Accepted:
		c.opts.Ringtone.Stop()
		c.establishLocked()
		c.setStatus("Call accepted")

	case engine.Confirmed:
		c.opts.Ringtone.Stop()
		c.establishLocked()
		c.setStatus("Call active")

	case engine.Ended:
		c.releaseCallLocked()
		c.setStatus("Call ended")
		c.logLine(fmt.Sprintf("Call ended by %s%s", originatorLabel(e.Originator), causeSuffix(e.Cause)))

	case engine.Failed:
		c.opts.Metrics.callFailed(e.Cause)
		c.releaseCallLocked()
		c.setStatus("Call failed" + causeSuffix(e.Cause))

	case engine.Bye:
		c.releaseCallLocked()
		c.setStatus("Call ended by remote.")

	case engine.Hold:
		c.states.fire(evHold)
		c.holdLabel = UnholdLabel
		c.setStatus(fmt.Sprintf("Call On Hold (by %s)", originatorLabel(e.Originator)))

	case engine.Unhold:
		c.states.fire(evUnhold)
		c.holdLabel = HoldLabel
		c.setStatus(fmt.Sprintf("Call Resumed (unheld by %s)", originatorLabel(e.Originator)))

	case engine.PeerConnection:
		switch e.State {
		case "disconnected", "closed", "failed":
			c.opts.Ringtone.Stop()
			c.holdLabel = HoldLabel
			c.setStatus("Call connection " + e.State + ".")
		default:
			c.logLine("Peer connection state: " + e.State)
		}

	case engine.ICEConnectionState:
		c.logLine("ICE connection state: " + e.State)

	case engine.Track:
		c.logLine("Session: Remote " + e.Kind + " track received.")

	case engine.ReferProgress:
		switch {
		case e.StatusCode >= 300:
			reason := e.Reason
			if reason == "" {
				reason = fmt.Sprint(e.StatusCode)
			}
			c.setStatus("Transfer failed: " + reason)
			c.alert("Call transfer failed: " + reason)
		case e.StatusCode >= 200:
			c.setStatus("Transfer accepted by server.")
		default:
			c.logLine(fmt.Sprintf("Transfer in progress (%d %s)", e.StatusCode, e.Reason))
		}

	default:
		c.log.Debug("unhandled session event", slog.String("event", ev.Name()))
	}
}

func causeOrUnknown(cause string) string {
	if cause == "" {
		return "unknown"
	}
	return cause
}
