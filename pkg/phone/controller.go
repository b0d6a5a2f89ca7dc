// Package phone контроллер звонков софтфона.
//
// Controller владеет единственной ссылкой на текущий звонок и экземпляром
// сигнального движка. Действия пользователя вызываются из любых горутин,
// события движка обрабатываются по очереди в Run. События устаревшего движка
// (поколение uaGen) и замененных звонков игнорируются.
package phone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/webphone/pkg/engine"
	"github.com/arzzra/webphone/pkg/ice"
	"github.com/arzzra/webphone/pkg/ringtone"
	"github.com/arzzra/webphone/pkg/settings"
)

// Observer получает изменения для отображения. Вызывается под блокировкой
// контроллера, поэтому не должен вызывать методы Controller.
type Observer interface {
	StatusChanged(line StatusLine)
	Alert(message string)
	ViewChanged(v View)
}

// Ringtone сигнал входящего вызова.
type Ringtone interface {
	Play() error
	Stop()
	Unlock()
}

type nopObserver struct{}

func (nopObserver) StatusChanged(StatusLine) {}
func (nopObserver) Alert(string)             {}
func (nopObserver) ViewChanged(View)         {}

type nopRingtone struct{}

func (nopRingtone) Play() error { return nil }
func (nopRingtone) Stop()       {}
func (nopRingtone) Unlock()     {}

// Options параметры контроллера
type Options struct {
	Logger   *slog.Logger
	Observer Observer
	Ringtone Ringtone
	Metrics  *Metrics

	// UserAgent строка User-Agent движка
	UserAgent string
	// RegisterExpires время жизни регистрации
	RegisterExpires time.Duration
	// DefaultWSSPort порт для wss://server, если WSS URI не задан. Пустой: без порта.
	DefaultWSSPort string
	// StopTransportOnUnregister останавливать движок после снятия регистрации
	StopTransportOnUnregister bool
	// EventBuffer размер очереди событий движка
	EventBuffer int
	// StatusLogLimit число хранимых строк журнала
	StatusLogLimit int
	// Now источник времени для журнала
	Now func() time.Time
}

type queuedEvent struct {
	gen uint64
	ev  engine.Event
}

type activeCall struct {
	session     engine.Session
	gen         uint64
	direction   engine.Direction
	established time.Time
}

// Controller контроллер звонков.
type Controller struct {
	opts    Options
	log     *slog.Logger
	factory engine.Factory
	events  chan queuedEvent
	done    chan struct{}
	journal *statusLog

	// stopping отвязанные движки, чья остановка еще идет
	stopping sync.WaitGroup

	mu       sync.Mutex
	settings settings.ConnectionSettings
	ua       engine.UserAgent
	uaGen    uint64
	call     *activeCall
	callGen  uint64
	states   *callStates

	holdLabel     string
	status        string
	unlockPending bool
	lastView      View
	closed        bool
}

// New создает контроллер. factory вызывается при каждой регистрации.
func New(factory engine.Factory, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Ringtone == nil {
		opts.Ringtone = nopRingtone{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "webphone"
	}
	if opts.RegisterExpires <= 0 {
		opts.RegisterExpires = 600 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		opts:      opts,
		log:       opts.Logger.With(slog.String("component", "phone")),
		factory:   factory,
		events:    make(chan queuedEvent, opts.EventBuffer),
		done:      make(chan struct{}),
		journal:   newStatusLog(opts.StatusLogLimit),
		holdLabel: HoldLabel,
	}
	c.states = newCallStates(c.log, func(from, to string) {
		c.opts.Metrics.transition(from, to)
		c.log.Debug("call state", slog.String("from", from), slog.String("to", to))
	})
	return c
}

// Run обрабатывает события движка до отмены ctx.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case q := <-c.events:
			c.dispatch(q)
		}
	}
}

// DispatchPending синхронно обрабатывает накопившиеся события и возвращает их число.
func (c *Controller) DispatchPending() int {
	n := 0
	for {
		select {
		case q := <-c.events:
			c.dispatch(q)
			n++
		default:
			return n
		}
	}
}

func (c *Controller) handlerFor(gen uint64) engine.Handler {
	return func(ev engine.Event) {
		select {
		case c.events <- queuedEvent{gen: gen, ev: ev}:
		case <-c.done:
		}
	}
}

// Settings текущие настройки.
func (c *Controller) Settings() settings.ConnectionSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Restore применяет загруженные при старте настройки: регистрируется, если
// их достаточно, иначе просит заполнить настройки.
func (c *Controller) Restore(s settings.ConnectionSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = s.Normalize()
	c.logLine("Settings loaded.")
	if !c.settings.CanRegister() {
		c.setStatus("SIP settings incomplete. Please configure.")
		c.refreshView()
		return nil
	}
	return c.startAgentLocked()
}

// ApplySettings заменяет настройки целиком и перерегистрируется.
// При неполных настройках движок останавливается.
func (c *Controller) ApplySettings(s settings.ConnectionSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = s.Normalize()
	c.logLine("Settings saved.")
	if !c.settings.CanRegister() {
		if c.ua != nil {
			c.stopAgentLocked()
		}
		c.setStatus("SIP settings incomplete. Cannot register.")
		c.refreshView()
		return nil
	}
	return c.startAgentLocked()
}

// Register создает новый экземпляр движка и запускает регистрацию.
func (c *Controller) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settings.CanRegister() {
		c.alert("SIP settings incomplete. Please configure and save settings first.")
		c.refreshView()
		return c.fail(ErrIncompleteSettings)
	}
	if c.ua != nil && c.ua.IsRegistered() {
		c.alert("Already registered.")
		c.refreshView()
		return c.fail(ErrAlreadyRegistered)
	}
	return c.startAgentLocked()
}

// startAgentLocked останавливает прежний движок и создает новый.
func (c *Controller) startAgentLocked() error {
	if c.ua != nil {
		c.logLine("Stopping existing UA instance.")
		c.stopAgentLocked()
	}

	socketURI, err := c.settings.SocketURI(c.opts.DefaultWSSPort)
	if err != nil {
		c.setStatus("WSS URI or SIP Server required for WebSocket.")
		c.alert("Configuration error: WSS URI or SIP Server must be set.")
		c.refreshView()
		return c.fail(ErrNoSignalingTarget)
	}
	if c.settings.SIPUsername == "" {
		c.setStatus("SIP Username is required.")
		c.alert("Configuration error: SIP Username must be set.")
		c.refreshView()
		return c.fail(ErrIncompleteSettings)
	}

	cfg := engine.Config{
		URI:               c.settings.AOR(),
		SocketURI:         socketURI,
		Password:          c.settings.SIPPassword,
		AuthorizationUser: c.settings.SIPUsername,
		DisplayName:       c.settings.SIPDisplayName,
		OutboundProxy:     c.settings.OutboundProxy,
		RegistrarServer:   c.settings.Domain(),
		UserAgent:         c.opts.UserAgent,
		RegisterExpires:   c.opts.RegisterExpires,
	}

	c.uaGen++
	ua, err := c.factory(cfg, c.handlerFor(c.uaGen))
	if err != nil {
		c.setStatus("Error initializing SIP: " + err.Error())
		c.alert("Failed to initialize SIP client: " + err.Error())
		c.refreshView()
		return c.fail(ErrEngineInit.withCause(err))
	}
	c.ua = ua

	c.logLine("Initializing SIP UA with socket " + socketURI)
	if err := ua.Start(); err != nil {
		c.ua = nil
		c.setStatus("Error initializing SIP: " + err.Error())
		c.alert("Failed to initialize SIP client: " + err.Error())
		c.refreshView()
		return c.fail(ErrEngineInit.withCause(err))
	}
	c.setStatus("Initializing SIP...")
	c.refreshView()
	return nil
}

// stopAgentLocked отвязывает движок и его события, остановка идет в фоне
// без c.mu. Звонок прежнего движка завершается вместе с ним.
func (c *Controller) stopAgentLocked() {
	if c.call != nil {
		c.call.session.Terminate(engine.TerminateOptions{})
		c.releaseCallLocked()
	}
	ua := c.ua
	c.ua = nil
	c.uaGen++

	c.stopping.Add(1)
	go func() {
		defer c.stopping.Done()
		ua.Stop()
	}()
}

// Unregister снимает регистрацию. Текущий звонок завершается.
func (c *Controller) Unregister() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call != nil {
		c.call.session.Terminate(engine.TerminateOptions{})
		c.releaseCallLocked()
	}
	if c.ua == nil {
		c.setStatus("SIP client not active.")
		c.refreshView()
		return nil
	}

	if c.ua.IsRegistered() || c.ua.IsConnecting() {
		c.setStatus("Unregistering...")
		if err := c.ua.Unregister(); err != nil {
			c.setStatus("Unregister failed: " + err.Error())
			c.refreshView()
			return c.fail(ErrUnregister.withCause(err))
		}
		if c.opts.StopTransportOnUnregister {
			c.ua.Stop()
		}
	} else {
		c.logLine("UA not registered or connecting; stopping it.")
		c.ua.Stop()
	}
	c.refreshView()
	return nil
}

// StartCall звонит на destination. Номер без '@' дополняется доменом сервера.
func (c *Controller) StartCall(destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ua == nil || !c.ua.IsRegistered() {
		c.alert("SIP client is not registered. Please check settings or wait for registration.")
		c.refreshView()
		return c.fail(ErrNotRegistered)
	}
	if c.call != nil {
		c.setStatus("A call is already in progress.")
		return c.fail(ErrCallInProgress)
	}
	dest := strings.TrimSpace(destination)
	if dest == "" {
		c.alert("Please enter a destination to call.")
		return c.fail(ErrEmptyDestination)
	}

	target := QualifyTarget(dest, c.settings.Domain())
	c.logLine("Attempting to call: " + target)

	sess, err := c.ua.Call(target, c.callOptionsLocked(target))
	if err != nil {
		c.setStatus("Call start error.")
		c.alert("Call could not be started: " + err.Error())
		c.refreshView()
		return c.fail(ErrCallFailed.withCause(err))
	}

	c.installCallLocked(sess, engine.DirectionOutgoing)
	c.setStatus("Initiating call...")
	c.refreshView()
	return nil
}

// Answer отвечает на входящий звонок. Сигнал вызова останавливается всегда.
func (c *Controller) Answer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil || c.call.direction != engine.DirectionIncoming ||
		c.states.phase() != PhaseRingingIn || c.call.session.IsEstablished() {
		c.setStatus("No incoming call to answer.")
		c.refreshView()
		return c.fail(ErrNoSession)
	}

	c.logLine("Answering call...")
	err := c.call.session.Answer(c.callOptionsLocked(c.call.session.RemoteIdentity()))
	c.opts.Ringtone.Stop()
	if err != nil {
		c.setStatus("Answer failed: " + err.Error())
		c.refreshView()
		return c.fail(ErrAnswerFailed.withCause(err))
	}

	c.establishLocked()
	c.refreshView()
	return nil
}

// Reject отклоняет входящий звонок.
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil || c.states.phase() != PhaseRingingIn {
		c.refreshView()
		return c.fail(ErrNoSession)
	}
	c.call.session.Terminate(engine.TerminateOptions{StatusCode: 603, Reason: "Decline"})
	c.releaseCallLocked()
	c.setStatus("Call rejected")
	c.refreshView()
	return nil
}

// Hangup завершает звонок в любой фазе, не дожидаясь ответа удаленной стороны.
func (c *Controller) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil {
		c.opts.Ringtone.Stop()
		c.refreshView()
		return c.fail(ErrNoSession)
	}
	c.logLine("Terminating call...")
	c.call.session.Terminate(engine.TerminateOptions{})
	c.releaseCallLocked()
	c.setStatus("Call ended")
	c.refreshView()
	return nil
}

// Terminate то же, что Hangup.
func (c *Controller) Terminate() error {
	return c.Hangup()
}

// ToggleHold ставит звонок на удержание или снимает с него, по локальному флагу.
// Запрос к удаленной стороне выполняется без блокировки контроллера.
func (c *Controller) ToggleHold(ctx context.Context) error {
	c.mu.Lock()
	phase := c.states.phase()
	if c.call == nil || (phase != PhaseEstablished && phase != PhaseOnHold) {
		c.setStatus("No active call to hold/unhold.")
		c.refreshView()
		c.mu.Unlock()
		return c.fail(ErrInvalidState)
	}
	sess, gen := c.call.session, c.call.gen
	c.mu.Unlock()

	onHold := sess.IsOnHold().Local
	var err error
	if onHold {
		err = sess.Unhold(ctx)
	} else {
		err = sess.Hold(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil || c.call.gen != gen {
		c.log.Debug("hold result for superseded call ignored")
		return nil
	}
	if err != nil {
		msg := "Failed to put call on hold."
		if onHold {
			msg = "Failed to resume call."
		}
		c.setStatus(msg)
		c.alert(msg + " " + err.Error())
		c.refreshView()
		return c.fail(ErrHoldFailed.withCause(err))
	}

	if onHold {
		c.states.fire(evUnhold)
		c.holdLabel = HoldLabel
		c.setStatus("Call Resumed")
	} else {
		c.states.fire(evHold)
		c.holdLabel = UnholdLabel
		c.setStatus("Call On Hold")
	}
	c.refreshView()
	return nil
}

// Transfer переводит установленный звонок на target (REFER). Звонок остается
// под управлением контроллера независимо от результата.
func (c *Controller) Transfer(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.call == nil || c.states.phase() != PhaseEstablished {
		c.setStatus("No active call to transfer.")
		c.refreshView()
		c.mu.Unlock()
		return c.fail(ErrInvalidState)
	}
	t := strings.TrimSpace(target)
	if t == "" {
		c.alert("Please enter a target to transfer the call to.")
		c.mu.Unlock()
		return c.fail(ErrEmptyDestination)
	}
	referTo := QualifyTarget(t, c.settings.Domain())
	sess, gen := c.call.session, c.call.gen
	c.logLine("Transferring call to " + referTo)
	c.mu.Unlock()

	err := sess.Refer(ctx, referTo)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil || c.call.gen != gen {
		return nil
	}
	if err != nil {
		c.setStatus("Transfer failed.")
		c.alert("Call transfer failed: " + err.Error())
		c.refreshView()
		return c.fail(ErrTransfer.withCause(err))
	}
	c.setStatus("Transfer initiated...")
	c.refreshView()
	return nil
}

// UnlockAudio разблокирует звук после действия пользователя. Если входящий
// звонок еще звонит, сигнал запускается повторно.
func (c *Controller) UnlockAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opts.Ringtone.Unlock()
	c.unlockPending = false
	c.setStatus("Audio context unlocked successfully.")
	if c.states.phase() == PhaseRingingIn {
		c.playRingtoneLocked()
	}
	c.refreshView()
}

// View текущие доступные действия.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Phase текущая фаза звонка.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states.phase()
}

// StatusLog копия журнала статуса.
func (c *Controller) StatusLog() []StatusLine {
	return c.journal.snapshot()
}

// Close завершает звонок, останавливает движок и ждет остановки
// всех отвязанных ранее движков.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	if c.call != nil {
		c.call.session.Terminate(engine.TerminateOptions{})
		c.releaseCallLocked()
	}
	if c.ua != nil {
		c.stopAgentLocked()
	}
	c.opts.Ringtone.Stop()
	c.mu.Unlock()

	c.stopping.Wait()
}

func (c *Controller) callOptionsLocked(destination string) engine.CallOptions {
	return engine.CallOptions{
		Media: engine.MediaConstraints{
			Audio:        true,
			AudioInputID: c.settings.SelectedAudioInputID,
		},
		ICEServers:    ice.ServersConfig(c.settings, destination),
		AudioOutputID: c.settings.SelectedAudioOutputID,
	}
}

// installCallLocked делает sess текущим звонком. Прежний звонок завершается
// и освобождается до установки нового.
func (c *Controller) installCallLocked(sess engine.Session, direction engine.Direction) {
	if c.call != nil {
		c.logLine("Replacing previous call session.")
		c.call.session.Terminate(engine.TerminateOptions{})
		c.releaseCallLocked()
	}

	c.callGen++
	c.call = &activeCall{session: sess, gen: c.callGen, direction: direction}
	c.holdLabel = HoldLabel
	if direction == engine.DirectionIncoming {
		c.states.fire(evIncoming)
	} else {
		c.states.fire(evDial)
	}
	c.opts.Metrics.callStarted(string(direction))
}

// releaseCallLocked идемпотентная очистка: сигнал, ссылка на звонок, подпись.
func (c *Controller) releaseCallLocked() {
	c.opts.Ringtone.Stop()
	if c.call != nil {
		c.opts.Metrics.callReleased(c.call.established)
	}
	c.call = nil
	c.holdLabel = HoldLabel
	c.states.release()
}

func (c *Controller) establishLocked() {
	if c.states.fire(evEstablish) && c.call != nil {
		c.call.established = c.opts.Now()
	}
}

func (c *Controller) playRingtoneLocked() {
	err := c.opts.Ringtone.Play()
	if err == nil {
		return
	}
	c.logLine("Ringtone play failed: " + err.Error())
	c.opts.Metrics.actionError(ErrPlayback.withCause(err))
	if errors.Is(err, ringtone.ErrPlaybackBlocked) {
		c.unlockPending = true
		c.setStatus("Click \"Unlock Audio\" to hear the ringtone.")
	}
}

func (c *Controller) fail(err *Error) error {
	c.opts.Metrics.actionError(err)
	c.log.Warn("action failed", slog.String("code", err.Code), slog.Any("error", err))
	return err
}

func (c *Controller) viewLocked() View {
	snap := Snapshot{
		Registered:    c.ua != nil && c.ua.IsRegistered(),
		Connecting:    c.ua != nil && c.ua.IsConnecting(),
		SettingsValid: c.settings.CanRegister(),
		Phase:         c.states.phase(),
		HoldLabel:     c.holdLabel,
	}
	if c.call != nil {
		snap.Direction = c.call.direction
	}
	v := Affordances(snap)
	if c.call != nil && v.Phase.HasSession() {
		v.Remote = c.call.session.RemoteIdentity()
	}
	v.Status = c.status
	v.AudioUnlockRequired = c.unlockPending
	return v
}

func (c *Controller) refreshView() {
	v := c.viewLocked()
	if v == c.lastView {
		return
	}
	c.lastView = v
	c.opts.Observer.ViewChanged(v)
}

// setStatus меняет строку статуса и пишет ее в журнал.
func (c *Controller) setStatus(text string) {
	c.status = text
	c.logLine(text)
}

// logLine пишет строку только в журнал.
func (c *Controller) logLine(text string) {
	line := StatusLine{Time: c.opts.Now(), Text: text}
	c.journal.add(line)
	c.log.Info(text)
	c.opts.Observer.StatusChanged(line)
}

func (c *Controller) alert(message string) {
	c.log.Info("alert", slog.String("message", message))
	c.opts.Observer.Alert(message)
}

func originatorLabel(o engine.Originator) string {
	if o == "" {
		return "unknown"
	}
	return string(o)
}

func causeSuffix(cause string) string {
	if cause == "" {
		return ""
	}
	return fmt.Sprintf(": %s", cause)
}
