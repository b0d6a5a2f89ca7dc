package phone_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/webphone/pkg/engine"
	"github.com/arzzra/webphone/pkg/engine/enginetest"
	"github.com/arzzra/webphone/pkg/phone"
	"github.com/arzzra/webphone/pkg/ringtone"
	"github.com/arzzra/webphone/pkg/settings"
)

// fakeRingtone считает запуски и остановки
type fakeRingtone struct {
	mu      sync.Mutex
	plays   int
	stops   int
	unlocks int
	playing bool
	playErr error
}

func (r *fakeRingtone) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playErr != nil {
		return r.playErr
	}
	r.plays++
	r.playing = true
	return nil
}

func (r *fakeRingtone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.playing = false
}

func (r *fakeRingtone) Unlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlocks++
	r.playErr = nil
}

func (r *fakeRingtone) state() (plays int, playing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plays, r.playing
}

// collector собирает уведомления контроллера
type collector struct {
	mu     sync.Mutex
	lines  []phone.StatusLine
	alerts []string
	views  []phone.View
}

func (c *collector) StatusChanged(l phone.StatusLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *collector) Alert(m string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, m)
}

func (c *collector) ViewChanged(v phone.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views = append(c.views, v)
}

func (c *collector) Alerts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.alerts...)
}

func validSettings() settings.ConnectionSettings {
	return settings.ConnectionSettings{
		SIPServer:             "pbx.example.com",
		SIPUsername:           "1001",
		SIPPassword:           "secret",
		SIPDisplayName:        "Alice",
		STUNServer:            "stun:stun.example.com:3478",
		TURNServer:            "turn:turn.example.com:3478",
		TURNUsername:          "tu",
		TURNPassword:          "tp",
		SelectedAudioInputID:  "mic-1",
		SelectedAudioOutputID: "spk-1",
	}
}

// ControllerSuite сценарии контроллера звонков на фейковом движке
type ControllerSuite struct {
	suite.Suite

	rec      *enginetest.Recorder
	ring     *fakeRingtone
	observer *collector
	registry *prometheus.Registry
	opts     phone.Options
	c        *phone.Controller
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.rec = &enginetest.Recorder{}
	s.ring = &fakeRingtone{}
	s.observer = &collector{}
	s.registry = prometheus.NewRegistry()
	s.opts = phone.Options{
		Observer: s.observer,
		Ringtone: s.ring,
		Metrics:  phone.NewMetrics(s.registry),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 10, 11, 12, 0, time.UTC) },
	}
	s.c = phone.New(s.rec.Factory(), s.opts)
}

func (s *ControllerSuite) TearDownTest() {
	s.c.Close()
}

// register применяет настройки и доводит фейковый движок до регистрации
func (s *ControllerSuite) register() *enginetest.Agent {
	s.Require().NoError(s.c.ApplySettings(validSettings()))
	agent := s.rec.Last()
	s.Require().NotNil(agent)
	agent.Register()
	s.c.DispatchPending()
	s.Require().True(s.c.View().Registered)
	return agent
}

func (s *ControllerSuite) incoming(agent *enginetest.Agent) *enginetest.Session {
	sess := enginetest.NewSession(engine.DirectionIncoming, "sip:bob@pbx.example.com")
	agent.Emit(engine.NewSession{Session: sess, Originator: engine.OriginatorRemote})
	s.c.DispatchPending()
	return sess
}

func (s *ControllerSuite) outgoingEstablished(agent *enginetest.Agent) *enginetest.Session {
	s.Require().NoError(s.c.StartCall("1002"))
	calls := agent.Calls()
	s.Require().NotEmpty(calls)
	sess := calls[len(calls)-1].Session
	agent.Emit(engine.Accepted{Ref: sess.Ref()})
	agent.Emit(engine.Confirmed{Ref: sess.Ref()})
	s.c.DispatchPending()
	s.Require().Equal(phone.PhaseEstablished, s.c.Phase())
	return sess
}

func (s *ControllerSuite) TestRegisterWithEmptyUsername() {
	cfg := validSettings()
	cfg.SIPUsername = ""
	s.Require().NoError(s.c.ApplySettings(cfg))

	err := s.c.Register()
	s.ErrorIs(err, phone.ErrIncompleteSettings)
	s.Equal(phone.ErrorCategoryConfig, phone.CategoryOf(err))
	s.Empty(s.rec.Agents(), "движок не должен создаваться")
	s.Contains(s.observer.Alerts(), "SIP settings incomplete. Please configure and save settings first.")
	s.False(s.c.View().CanRegister)
}

func (s *ControllerSuite) TestRegisterWithoutServer() {
	err := s.c.Register()
	s.ErrorIs(err, phone.ErrIncompleteSettings)
	s.Empty(s.rec.Agents())
}

func (s *ControllerSuite) TestRegisterBuildsEngineConfig() {
	cfg := validSettings()
	cfg.SIPPort = "5060"
	s.Require().NoError(s.c.ApplySettings(cfg))

	agent := s.rec.Last()
	s.Require().NotNil(agent)
	s.True(agent.Started())
	s.Equal("sip:1001@pbx.example.com:5060", agent.Config.URI)
	s.Equal("wss://pbx.example.com", agent.Config.SocketURI)
	s.Equal("secret", agent.Config.Password)
	s.Equal("Alice", agent.Config.DisplayName)
	s.Equal("pbx.example.com", agent.Config.RegistrarServer)

	v := s.c.View()
	s.True(v.Connecting)
	s.True(v.CanUnregister)
	s.False(v.CanRegister)
}

func (s *ControllerSuite) TestDefaultWSSPort() {
	s.opts.DefaultWSSPort = "443"
	c := phone.New(s.rec.Factory(), s.opts)
	defer c.Close()

	s.Require().NoError(c.ApplySettings(validSettings()))
	s.Equal("wss://pbx.example.com:443", s.rec.Last().Config.SocketURI)
}

// TestRegisterReplacesAgent повторная регистрация пересоздает движок, события старого игнорируются
func (s *ControllerSuite) TestRegisterReplacesAgent() {
	s.Require().NoError(s.c.ApplySettings(validSettings()))
	first := s.rec.Last()

	s.Require().NoError(s.c.Register())
	agents := s.rec.Agents()
	s.Require().Len(agents, 2)
	s.Eventually(first.Stopped, time.Second, 5*time.Millisecond)

	first.SetRegistered(true)
	first.Emit(engine.Registered{})
	s.c.DispatchPending()
	s.NotEqual("SIP Registered", s.c.View().Status)
	s.False(s.c.View().Registered)

	agents[1].Register()
	s.c.DispatchPending()
	s.Equal("SIP Registered", s.c.View().Status)
}

func (s *ControllerSuite) TestAlreadyRegistered() {
	s.register()
	err := s.c.Register()
	s.ErrorIs(err, phone.ErrAlreadyRegistered)
	s.Contains(s.observer.Alerts(), "Already registered.")
	s.Len(s.rec.Agents(), 1)
}

func (s *ControllerSuite) TestRegistrationFailed() {
	s.Require().NoError(s.c.ApplySettings(validSettings()))
	agent := s.rec.Last()
	agent.SetConnecting(false)
	agent.Emit(engine.RegistrationFailed{Cause: engine.CauseAuthenticationError})
	s.c.DispatchPending()

	v := s.c.View()
	s.Equal("SIP Registration Failed: Authentication Error", v.Status)
	s.True(v.CanRegister)
	s.Equal(1.0, s.counterValue("webphone_registration_events_total", "result", "failed"))
}

// counterValue значение счетчика с меткой label=value
func (s *ControllerSuite) counterValue(name, label, value string) float64 {
	families, err := s.registry.Gather()
	s.Require().NoError(err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (s *ControllerSuite) TestApplyIncompleteSettingsStopsAgent() {
	agent := s.register()
	s.Require().NoError(s.c.ApplySettings(settings.ConnectionSettings{SIPServer: "pbx"}))
	s.Eventually(agent.Stopped, time.Second, 5*time.Millisecond)
	s.Equal("SIP settings incomplete. Cannot register.", s.c.View().Status)
}

func (s *ControllerSuite) TestRestore() {
	s.Require().NoError(s.c.Restore(settings.ConnectionSettings{}))
	s.Empty(s.rec.Agents())
	s.Equal("SIP settings incomplete. Please configure.", s.c.View().Status)

	s.Require().NoError(s.c.Restore(validSettings()))
	s.Len(s.rec.Agents(), 1)
}

// TestIncomingAnswer входящий звонок: сигнал, ответ, сигнал остановлен, звонок установлен
func (s *ControllerSuite) TestIncomingAnswer() {
	agent := s.register()
	sess := s.incoming(agent)

	plays, playing := s.ring.state()
	s.Equal(1, plays)
	s.True(playing)

	v := s.c.View()
	s.Equal(phone.PhaseRingingIn, v.Phase)
	s.True(v.CanAnswer)
	s.True(v.CanReject)
	s.Equal("sip:bob@pbx.example.com", v.Remote)
	s.Equal("Incoming call from sip:bob@pbx.example.com", v.Status)

	s.Require().NoError(s.c.Answer())
	_, playing = s.ring.state()
	s.False(playing)
	s.Equal(phone.PhaseEstablished, s.c.Phase())

	answers := sess.Answers()
	s.Require().Len(answers, 1)
	s.Equal("mic-1", answers[0].Media.AudioInputID)
	s.True(answers[0].Media.Audio)
	s.Equal("spk-1", answers[0].AudioOutputID)

	// повторный ответ недопустим
	s.ErrorIs(s.c.Answer(), phone.ErrNoSession)
}

func (s *ControllerSuite) TestAnswerFailureStopsRingtone() {
	agent := s.register()
	sess := s.incoming(agent)
	sess.AnswerErr = errors.New("no media")

	err := s.c.Answer()
	s.ErrorIs(err, phone.ErrAnswerFailed)
	_, playing := s.ring.state()
	s.False(playing)
	s.Equal(phone.PhaseRingingIn, s.c.Phase())
}

func (s *ControllerSuite) TestAnswerWithoutSession() {
	s.register()
	s.ErrorIs(s.c.Answer(), phone.ErrNoSession)
	s.Equal("No incoming call to answer.", s.c.View().Status)
}

// TestRemoteByeClearsSession BYE от удаленной стороны освобождает звонок
func (s *ControllerSuite) TestRemoteByeClearsSession() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)
	s.Require().NoError(s.c.ToggleHold(context.Background()))
	s.Equal(phone.UnholdLabel, s.c.View().HoldLabel)

	stopsBefore := s.ring.stops
	agent.Emit(engine.Bye{Ref: sess.Ref()})
	s.c.DispatchPending()

	v := s.c.View()
	s.Equal(phone.PhaseIdle, v.Phase)
	s.Equal(phone.HoldLabel, v.HoldLabel)
	s.Equal("Call ended by remote.", v.Status)
	s.Greater(s.ring.stops, stopsBefore)
	s.True(v.CanStartCall)

	// ended после bye относится к уже освобожденному звонку
	agent.Emit(engine.Ended{Ref: sess.Ref(), Originator: engine.OriginatorRemote, Cause: engine.CauseBye})
	s.c.DispatchPending()
	s.Equal("Call ended by remote.", s.c.View().Status)
}

// TestToggleHoldTwice удержание и снятие с удержания меняют фазу и подпись
func (s *ControllerSuite) TestToggleHoldTwice() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)

	s.Require().NoError(s.c.ToggleHold(context.Background()))
	v := s.c.View()
	s.Equal(phone.PhaseOnHold, v.Phase)
	s.Equal(phone.UnholdLabel, v.HoldLabel)
	s.False(v.CanTransfer)

	s.Require().NoError(s.c.ToggleHold(context.Background()))
	v = s.c.View()
	s.Equal(phone.PhaseEstablished, v.Phase)
	s.Equal(phone.HoldLabel, v.HoldLabel)

	holds, unholds := sess.HoldCalls()
	s.Equal(1, holds)
	s.Equal(1, unholds)
}

func (s *ControllerSuite) TestToggleHoldFailureLeavesState() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)
	sess.HoldErr = errors.New("488 Not Acceptable Here")

	err := s.c.ToggleHold(context.Background())
	s.ErrorIs(err, phone.ErrHoldFailed)
	s.Equal(phone.ErrorCategoryEngine, phone.CategoryOf(err))

	v := s.c.View()
	s.Equal(phone.PhaseEstablished, v.Phase)
	s.Equal(phone.HoldLabel, v.HoldLabel)
	s.Equal("Failed to put call on hold.", v.Status)
	s.NotEmpty(s.observer.Alerts())
}

func (s *ControllerSuite) TestToggleHoldRequiresEstablished() {
	agent := s.register()
	s.incoming(agent)
	s.ErrorIs(s.c.ToggleHold(context.Background()), phone.ErrInvalidState)
	s.Equal(phone.PhaseRingingIn, s.c.Phase())
}

func (s *ControllerSuite) TestRemoteHold() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)

	agent.Emit(engine.Hold{Ref: sess.Ref(), Originator: engine.OriginatorRemote})
	s.c.DispatchPending()
	v := s.c.View()
	s.Equal(phone.PhaseOnHold, v.Phase)
	s.Equal(phone.UnholdLabel, v.HoldLabel)
	s.Equal("Call On Hold (by remote)", v.Status)

	agent.Emit(engine.Unhold{Ref: sess.Ref(), Originator: engine.OriginatorRemote})
	s.c.DispatchPending()
	v = s.c.View()
	s.Equal(phone.PhaseEstablished, v.Phase)
	s.Equal(phone.HoldLabel, v.HoldLabel)
	s.Equal("Call Resumed (unheld by remote)", v.Status)
}

func (s *ControllerSuite) TestStartCallQualifiesTarget() {
	agent := s.register()

	s.Require().NoError(s.c.StartCall("1002"))
	calls := agent.Calls()
	s.Require().Len(calls, 1)
	s.Equal("sip:1002@pbx.example.com", calls[0].Target)
	s.Len(calls[0].Options.ICEServers, 2)
	s.Equal(phone.PhaseRingingOut, s.c.Phase())
	s.Equal("Initiating call...", s.c.View().Status)

	agent.Emit(engine.Progress{Ref: calls[0].Session.Ref(), StatusCode: 180})
	s.c.DispatchPending()
	s.Equal("Calling (Ringing)...", s.c.View().Status)

	s.ErrorIs(s.c.StartCall("1003"), phone.ErrCallInProgress)
}

func (s *ControllerSuite) TestStartCallLocalDestinationSkipsICE() {
	agent := s.register()
	s.Require().NoError(s.c.StartCall("1002@192.168.1.5"))
	calls := agent.Calls()
	s.Require().Len(calls, 1)
	s.Equal("1002@192.168.1.5", calls[0].Target)
	s.NotNil(calls[0].Options.ICEServers)
	s.Empty(calls[0].Options.ICEServers)
}

func (s *ControllerSuite) TestStartCallErrors() {
	s.ErrorIs(s.c.StartCall("1002"), phone.ErrNotRegistered)

	agent := s.register()
	s.ErrorIs(s.c.StartCall("   "), phone.ErrEmptyDestination)

	agent.CallErr = errors.New("transport closed")
	s.ErrorIs(s.c.StartCall("1002"), phone.ErrCallFailed)
	s.Equal(phone.PhaseIdle, s.c.Phase())
}

func (s *ControllerSuite) TestOutgoingFailed() {
	agent := s.register()
	s.Require().NoError(s.c.StartCall("1002"))
	sess := agent.Calls()[0].Session

	agent.Emit(engine.Failed{Ref: sess.Ref(), Originator: engine.OriginatorRemote, Cause: engine.CauseBusy})
	s.c.DispatchPending()

	v := s.c.View()
	s.Equal(phone.PhaseIdle, v.Phase)
	s.Equal("Call failed: Busy", v.Status)
}

// TestHangupIsImmediate завершение не ждет подтверждения удаленной стороны
func (s *ControllerSuite) TestHangupIsImmediate() {
	agent := s.register()
	sess := s.incoming(agent)

	s.Require().NoError(s.c.Hangup())
	s.Len(sess.Terminations(), 1)
	s.Equal(phone.PhaseIdle, s.c.Phase())
	_, playing := s.ring.state()
	s.False(playing)

	agent.Emit(engine.Accepted{Ref: sess.Ref()})
	s.c.DispatchPending()
	s.Equal(phone.PhaseIdle, s.c.Phase())

	s.ErrorIs(s.c.Hangup(), phone.ErrNoSession)
}

func (s *ControllerSuite) TestReject() {
	agent := s.register()
	sess := s.incoming(agent)

	s.Require().NoError(s.c.Reject())
	terms := sess.Terminations()
	s.Require().Len(terms, 1)
	s.Equal(603, terms[0].StatusCode)
	s.Equal("Call rejected", s.c.View().Status)
	s.Equal(phone.PhaseIdle, s.c.Phase())
}

// TestNewSessionSupersedesPrevious новый звонок заменяет прежний, события прежнего игнорируются
func (s *ControllerSuite) TestNewSessionSupersedesPrevious() {
	agent := s.register()
	first := s.incoming(agent)
	second := s.incoming(agent)

	s.Len(first.Terminations(), 1)
	s.Empty(second.Terminations())
	s.Equal(phone.PhaseRingingIn, s.c.Phase())

	agent.Emit(engine.Accepted{Ref: first.Ref()})
	s.c.DispatchPending()
	s.Equal(phone.PhaseRingingIn, s.c.Phase())

	plays, _ := s.ring.state()
	s.Equal(2, plays)
}

func (s *ControllerSuite) TestDisconnectWhileRingingIn() {
	agent := s.register()
	sess := s.incoming(agent)

	agent.SetRegistered(false)
	agent.Emit(engine.Disconnected{Cause: engine.CauseConnectionError})
	s.c.DispatchPending()

	v := s.c.View()
	s.Equal(phone.PhaseIdle, v.Phase)
	s.Equal("Disconnected from SIP server. Cause: Connection Error", v.Status)
	_, playing := s.ring.state()
	s.False(playing)
	s.Equal([]engine.TerminateOptions{{}}, sess.Terminations(), "сессия завершена, а не брошена")
}

func (s *ControllerSuite) TestPeerConnectionLost() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)
	s.Require().NoError(s.c.ToggleHold(context.Background()))

	agent.Emit(engine.PeerConnection{Ref: sess.Ref(), State: "failed"})
	s.c.DispatchPending()

	v := s.c.View()
	s.Equal("Call connection failed.", v.Status)
	s.True(v.CanEnd, "звонок остается до явного завершения")
}

func (s *ControllerSuite) TestTransfer() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)

	s.Require().NoError(s.c.Transfer(context.Background(), "1003"))
	s.Equal([]string{"sip:1003@pbx.example.com"}, sess.Refers())
	s.Equal(phone.PhaseEstablished, s.c.Phase())
	s.Equal("Transfer initiated...", s.c.View().Status)

	agent.Emit(engine.ReferProgress{Ref: sess.Ref(), StatusCode: 200, Reason: "OK"})
	s.c.DispatchPending()
	s.Equal("Transfer accepted by server.", s.c.View().Status)
	s.Equal(phone.PhaseEstablished, s.c.Phase())

	s.Require().NoError(s.c.Transfer(context.Background(), "carol@other.example.com"))
	s.Equal("carol@other.example.com", sess.Refers()[1])
}

func (s *ControllerSuite) TestTransferErrors() {
	agent := s.register()
	s.ErrorIs(s.c.Transfer(context.Background(), "1003"), phone.ErrInvalidState)

	sess := s.outgoingEstablished(agent)
	s.ErrorIs(s.c.Transfer(context.Background(), " "), phone.ErrEmptyDestination)

	sess.ReferErr = errors.New("403 Forbidden")
	s.ErrorIs(s.c.Transfer(context.Background(), "1003"), phone.ErrTransfer)
	s.Equal(phone.PhaseEstablished, s.c.Phase())

	s.Require().NoError(s.c.ToggleHold(context.Background()))
	s.ErrorIs(s.c.Transfer(context.Background(), "1003"), phone.ErrInvalidState)
}

func (s *ControllerSuite) TestPlaybackBlockedRequiresUnlock() {
	agent := s.register()
	s.ring.playErr = ringtone.ErrPlaybackBlocked
	s.incoming(agent)

	v := s.c.View()
	s.True(v.AudioUnlockRequired)
	s.Equal(phone.PhaseRingingIn, v.Phase)

	s.c.UnlockAudio()
	v = s.c.View()
	s.False(v.AudioUnlockRequired)
	plays, playing := s.ring.state()
	s.Equal(1, plays)
	s.True(playing)
}

func (s *ControllerSuite) TestUnregister() {
	agent := s.register()
	s.Require().NoError(s.c.Unregister())
	s.Equal(1, agent.UnregisterCount())
	s.False(agent.Stopped())

	agent.Emit(engine.Unregistered{})
	s.c.DispatchPending()
	v := s.c.View()
	s.Equal("SIP Unregistered", v.Status)
	s.True(v.CanRegister)
}

func (s *ControllerSuite) TestUnregisterStopsTransportWhenConfigured() {
	s.opts.StopTransportOnUnregister = true
	s.c = phone.New(s.rec.Factory(), s.opts)

	agent := s.register()
	s.Require().NoError(s.c.Unregister())
	s.True(agent.Stopped())
}

// TestSlowAgentStopDoesNotBlock остановка старого движка не держит контроллер
func (s *ControllerSuite) TestSlowAgentStopDoesNotBlock() {
	s.Require().NoError(s.c.ApplySettings(validSettings()))
	first := s.rec.Last()
	release := make(chan struct{})
	first.StopBlock = release

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.NoError(s.c.Register())
		s.c.View()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(release)
		s.FailNow("register blocked on previous agent stop")
	}
	s.Len(s.rec.Agents(), 2)
	s.False(first.Stopped())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.c.Close()
	}()
	s.Never(func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 5*time.Millisecond, "Close ждет остановки движков")

	close(release)
	s.Eventually(func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	s.True(first.Stopped())
}

func (s *ControllerSuite) TestUnregisterTerminatesCall() {
	agent := s.register()
	sess := s.outgoingEstablished(agent)

	s.Require().NoError(s.c.Unregister())
	s.Len(sess.Terminations(), 1)
	s.Equal(phone.PhaseIdle, s.c.Phase())
}

func (s *ControllerSuite) TestNewMessageAlert() {
	agent := s.register()
	agent.Emit(engine.NewMessage{From: "bob", Body: "hi"})
	s.c.DispatchPending()
	s.Contains(s.observer.Alerts(), "New message from bob: hi")
}

func (s *ControllerSuite) TestStatusLogLines() {
	s.register()
	lines := s.c.StatusLog()
	s.Require().NotEmpty(lines)
	last := lines[len(lines)-1]
	s.Equal("[10:11:12] SIP Registered", last.String())
}

func (s *ControllerSuite) TestRunProcessesEvents() {
	s.Require().NoError(s.c.ApplySettings(validSettings()))
	agent := s.rec.Last()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.c.Run(ctx) }()

	agent.Register()
	s.Eventually(func() bool { return s.c.View().Status == "SIP Registered" }, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
}
