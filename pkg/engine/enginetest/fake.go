// Package enginetest содержит управляемую вручную реализацию engine для тестов.
package enginetest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/arzzra/webphone/pkg/engine"
)

// Recorder собирает созданные фабрикой агенты.
type Recorder struct {
	mu     sync.Mutex
	agents []*Agent

	// FactoryErr возвращается фабрикой вместо агента, если задан
	FactoryErr error
}

// Factory фабрика для контроллера.
func (r *Recorder) Factory() engine.Factory {
	return func(cfg engine.Config, h engine.Handler) (engine.UserAgent, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.FactoryErr != nil {
			return nil, r.FactoryErr
		}
		a := &Agent{Config: cfg, handler: h}
		r.agents = append(r.agents, a)
		return a, nil
	}
}

// Agents все созданные агенты в порядке создания.
func (r *Recorder) Agents() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Agent(nil), r.agents...)
}

// Last последний созданный агент или nil.
func (r *Recorder) Last() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) == 0 {
		return nil
	}
	return r.agents[len(r.agents)-1]
}

// CallRecord параметры вызова Call.
type CallRecord struct {
	Target  string
	Options engine.CallOptions
	Session *Session
}

// Agent фейковый user agent. Флаги регистрации выставляются тестом.
type Agent struct {
	Config  engine.Config
	handler engine.Handler

	mu           sync.Mutex
	started      bool
	stopped      bool
	registered   bool
	connecting   bool
	unregistered int
	calls        []CallRecord

	// CallErr возвращается из Call, если задан
	CallErr error
	// StopBlock если задан, Stop ждет его закрытия
	StopBlock chan struct{}
}

func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.connecting = true
	return nil
}

func (a *Agent) Stop() {
	if a.StopBlock != nil {
		<-a.StopBlock
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.registered = false
	a.connecting = false
}

func (a *Agent) Call(target string, opts engine.CallOptions) (engine.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CallErr != nil {
		return nil, a.CallErr
	}
	sess := NewSession(engine.DirectionOutgoing, target)
	a.calls = append(a.calls, CallRecord{Target: target, Options: opts, Session: sess})
	return sess, nil
}

func (a *Agent) Unregister() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unregistered++
	a.registered = false
	return nil
}

func (a *Agent) IsRegistered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

func (a *Agent) IsConnecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connecting
}

// SetRegistered выставляет флаги так, как их выставил бы движок.
func (a *Agent) SetRegistered(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registered = v
	a.connecting = false
}

// SetConnecting выставляет флаг подключения.
func (a *Agent) SetConnecting(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connecting = v
}

// Emit отправляет событие обработчику контроллера.
func (a *Agent) Emit(ev engine.Event) {
	a.handler(ev)
}

// Register выставляет флаг регистрации и отправляет события, как при успехе.
func (a *Agent) Register() {
	a.Emit(engine.Connected{})
	a.SetRegistered(true)
	a.Emit(engine.Registered{})
}

func (a *Agent) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Agent) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *Agent) UnregisterCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unregistered
}

func (a *Agent) Calls() []CallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]CallRecord(nil), a.calls...)
}

// Session фейковая сессия. Ошибки операций задаются полями *Err.
type Session struct {
	id        string
	direction engine.Direction
	remote    string

	mu          sync.Mutex
	established bool
	hold        engine.HoldState
	answered    []engine.CallOptions
	terminated  []engine.TerminateOptions
	refers      []string
	holds       int
	unholds     int

	AnswerErr error
	HoldErr   error
	UnholdErr error
	ReferErr  error
}

// NewSession создает сессию со случайным идентификатором.
func NewSession(direction engine.Direction, remote string) *Session {
	return &Session{id: uuid.NewString(), direction: direction, remote: remote}
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Direction() engine.Direction { return s.direction }
func (s *Session) RemoteIdentity() string      { return s.remote }

func (s *Session) IsEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

func (s *Session) IsOnHold() engine.HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

func (s *Session) Answer(opts engine.CallOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AnswerErr != nil {
		return s.AnswerErr
	}
	s.answered = append(s.answered, opts)
	s.established = true
	return nil
}

func (s *Session) Terminate(opts engine.TerminateOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = append(s.terminated, opts)
}

func (s *Session) Hold(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds++
	if s.HoldErr != nil {
		return s.HoldErr
	}
	s.hold.Local = true
	return nil
}

func (s *Session) Unhold(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unholds++
	if s.UnholdErr != nil {
		return s.UnholdErr
	}
	s.hold.Local = false
	return nil
}

func (s *Session) Refer(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReferErr != nil {
		return s.ReferErr
	}
	s.refers = append(s.refers, target)
	return nil
}

// SetEstablished помечает сессию установленной.
func (s *Session) SetEstablished(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.established = v
}

// SetRemoteHold выставляет флаг удаленного удержания.
func (s *Session) SetRemoteHold(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold.Remote = v
}

func (s *Session) Answers() []engine.CallOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.CallOptions(nil), s.answered...)
}

func (s *Session) Terminations() []engine.TerminateOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.TerminateOptions(nil), s.terminated...)
}

func (s *Session) Refers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refers...)
}

// HoldCalls число вызовов Hold и Unhold.
func (s *Session) HoldCalls() (holds, unholds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds, s.unholds
}

// Ref ссылка для событий этой сессии.
func (s *Session) Ref() engine.Ref {
	return engine.Ref{ID: s.id}
}
