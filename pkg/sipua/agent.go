// Package sipua сигнальный движок софтфона на sipgo и pion/webrtc.
//
// Agent держит одно соединение с сервером (обычно WebSocket), одну
// регистрацию и звонки. О происходящем агент сообщает событиями
// engine.Event через engine.Handler; методы сессий, которые ждут ответа
// сети, принимают context.
package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/webphone/pkg/devices"
	"github.com/arzzra/webphone/pkg/engine"
)

const defaultUserAgent = "WebPhone/1.0"

var (
	// ErrNotStarted агент не запущен или уже остановлен
	ErrNotStarted = errors.New("sip agent is not started")
	// ErrAlreadyStarted повторный Start
	ErrAlreadyStarted = errors.New("sip agent is already started")
)

// Agent реализация engine.UserAgent.
type Agent struct {
	cfg  engine.Config
	emit engine.Handler
	opts options
	log  *slog.Logger

	aor      sip.Uri
	endpoint endpoint
	contact  sip.ContactHeader

	ua        *sipgo.UserAgent
	client    *sipgo.Client
	server    *sipgo.Server
	dialogCli *sipgo.DialogClientCache
	dialogSrv *sipgo.DialogServerCache
	media     *webrtc.API
	devices   devices.Opener

	reg *registration

	registered atomic.Bool
	connecting atomic.Bool

	mu       sync.Mutex
	sessions map[string]*Session // по Call-ID
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// Factory возвращает engine.Factory, создающую агентов с опциями opts.
func Factory(opts ...Option) engine.Factory {
	return func(cfg engine.Config, h engine.Handler) (engine.UserAgent, error) {
		return New(cfg, h, opts...)
	}
}

// New создает агента. Сеть не используется до Start.
func New(cfg engine.Config, emit engine.Handler, opts ...Option) (*Agent, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if emit == nil {
		emit = func(engine.Event) {}
	}

	a := &Agent{
		cfg:      cfg,
		emit:     emit,
		opts:     o,
		log:      o.logger.With(slog.String("component", "sipua")),
		devices:  o.devices,
		sessions: make(map[string]*Session),
	}
	if a.devices == nil {
		a.devices = devices.NewRegistry()
	}

	if err := sip.ParseUri(cfg.URI, &a.aor); err != nil {
		return nil, errors.Wrapf(err, "parse uri %q", cfg.URI)
	}
	if a.aor.User == "" || a.aor.Host == "" {
		return nil, fmt.Errorf("uri %q: требуются пользователь и домен", cfg.URI)
	}

	var err error
	if a.endpoint, err = a.resolveEndpoint(); err != nil {
		return nil, err
	}
	if err := a.endpoint.validate(); err != nil {
		return nil, errors.Wrapf(err, "socket uri %q", a.endpoint.String())
	}

	registrar := sip.Uri{Scheme: "sip", Host: a.aor.Host, Port: a.aor.Port}
	if cfg.RegistrarServer != "" {
		if err := sip.ParseUri(cfg.RegistrarServer, &registrar); err != nil {
			return nil, errors.Wrapf(err, "parse registrar %q", cfg.RegistrarServer)
		}
	}

	host := o.hostname
	if host == "" {
		host = strings.ToLower(sip.RandString(12)) + ".invalid"
	}
	a.contact = sip.ContactHeader{
		Address: sip.Uri{
			Scheme:    "sip",
			User:      a.aor.User,
			Host:      host,
			UriParams: sip.HeaderParams{"transport": a.endpoint.Transport.Param()},
		},
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if a.ua, err = sipgo.NewUA(sipgo.WithUserAgent(userAgent), sipgo.WithUserAgentHostname(host)); err != nil {
		return nil, fmt.Errorf("init UA: %w", err)
	}
	if a.server, err = sipgo.NewServer(a.ua); err != nil {
		_ = a.ua.Close()
		return nil, fmt.Errorf("new server: %w", err)
	}
	if a.client, err = sipgo.NewClient(a.ua, sipgo.WithClientHostname(host)); err != nil {
		_ = a.ua.Close()
		return nil, fmt.Errorf("new client: %w", err)
	}
	a.dialogCli = sipgo.NewDialogClientCache(a.client, a.contact)
	a.dialogSrv = sipgo.NewDialogServerCache(a.client, a.contact)

	if a.media, err = newMediaAPI(); err != nil {
		_ = a.ua.Close()
		return nil, err
	}

	a.reg = newRegistration(a, registrar, cfg.RegisterExpires)
	a.initServerHandlers()
	return a, nil
}

// resolveEndpoint выбирает адрес сигнализации: outbound proxy, затем
// socket URI, затем домен из URI по UDP.
func (a *Agent) resolveEndpoint() (endpoint, error) {
	fallback := TransportUDP
	var (
		ep  endpoint
		err error
	)
	switch {
	case a.cfg.SocketURI != "":
		if ep, err = parseSocketURI(a.cfg.SocketURI); err != nil {
			return endpoint{}, err
		}
		fallback = ep.Transport
	default:
		port := a.aor.Port
		if port == 0 {
			port = TransportUDP.DefaultPort()
		}
		ep = endpoint{Transport: TransportUDP, Host: a.aor.Host, Port: port}
	}
	if a.cfg.OutboundProxy != "" {
		return parseProxy(a.cfg.OutboundProxy, fallback)
	}
	return ep, nil
}

func (a *Agent) authUser() string {
	if a.cfg.AuthorizationUser != "" {
		return a.cfg.AuthorizationUser
	}
	return a.aor.User
}

// Start подключается и регистрируется. Результат приходит событиями.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrNotStarted
	}
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	a.ctx, a.cancel, a.group = gctx, cancel, g

	if a.opts.listen != "" {
		network := "udp"
		if a.endpoint.Transport != TransportUDP {
			network = "tcp"
		}
		g.Go(func() error {
			err := a.server.ListenAndServe(gctx, network, a.opts.listen)
			if err != nil && gctx.Err() == nil {
				a.emit(engine.Disconnected{Cause: engine.CauseConnectionError})
				return errors.Wrapf(err, "listen %s %s", network, a.opts.listen)
			}
			return nil
		})
	}

	a.log.Info("starting", slog.String("aor", a.aor.String()), slog.String("endpoint", a.endpoint.String()))
	a.connecting.Store(true)
	a.emit(engine.Connecting{})
	g.Go(func() error {
		a.reg.run(gctx)
		return nil
	})
	return nil
}

// Stop завершает звонки, снимает регистрацию и закрывает транспорт.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		a.stopped = true
		sessions := make([]*Session, 0, len(a.sessions))
		for _, s := range a.sessions {
			sessions = append(sessions, s)
		}
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.stopTimeout)
		defer cancel()

		for _, s := range sessions {
			s.end(ctx, engine.TerminateOptions{})
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.group != nil {
			if err := a.group.Wait(); err != nil {
				a.log.Warn("agent stopped with error", slog.String("error", err.Error()))
			}
		}
		if a.registered.Load() {
			a.reg.remove(ctx)
		}

		a.connecting.Store(false)
		a.registered.Store(false)
		if err := a.client.Close(); err != nil {
			a.log.Debug("close client", slog.String("error", err.Error()))
		}
		if err := a.ua.Close(); err != nil {
			a.log.Debug("close ua", slog.String("error", err.Error()))
		}
		if started {
			a.emit(engine.Disconnected{})
		}
		a.log.Info("stopped")
	})
}

// Unregister снимает регистрацию, транспорт остается открытым.
func (a *Agent) Unregister() error {
	a.mu.Lock()
	active := a.started && !a.stopped
	a.mu.Unlock()
	if !active {
		return ErrNotStarted
	}
	select {
	case a.reg.unregister <- struct{}{}:
	default:
	}
	return nil
}

func (a *Agent) IsRegistered() bool { return a.registered.Load() }

func (a *Agent) IsConnecting() bool { return a.connecting.Load() }

// Call начинает исходящий звонок. INVITE отправляется после сбора
// ICE кандидатов, ход звонка приходит событиями сессии.
func (a *Agent) Call(target string, opts engine.CallOptions) (engine.Session, error) {
	a.mu.Lock()
	active := a.started && !a.stopped
	parent := a.ctx
	a.mu.Unlock()
	if !active {
		return nil, ErrNotStarted
	}

	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return nil, errors.Wrapf(err, "parse target %q", target)
	}

	s := newSession(a, engine.DirectionOutgoing, target)
	s.callID = sip.RandString(32)
	p, err := newPeer(a.media, a.devices, opts, s.ref(), s.emitMedia, s.log)
	if err != nil {
		return nil, errors.Wrap(err, "media")
	}
	s.peer = p

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	a.track(s)
	go s.dial(ctx, uri)
	return s, nil
}

// invite собирает INVITE с From по AOR и отображаемым именем.
func (a *Agent) invite(uri sip.Uri, callID string, body []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, uri)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: a.cfg.DisplayName,
		Address:     a.aor,
		Params:      sip.HeaderParams{"tag": sip.RandString(8)},
	})
	req.AppendHeader(&sip.ToHeader{Address: uri, Params: sip.HeaderParams{}})
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	contact := a.contact
	req.AppendHeader(&contact)
	if a.cfg.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", a.cfg.UserAgent))
	}
	req.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody(body)
	a.endpoint.route(req)
	return req
}

func (a *Agent) track(s *Session) {
	a.mu.Lock()
	a.sessions[s.callID] = s
	a.mu.Unlock()
}

func (a *Agent) untrack(s *Session) {
	a.mu.Lock()
	if cur, ok := a.sessions[s.callID]; ok && cur == s {
		delete(a.sessions, s.callID)
	}
	a.mu.Unlock()
}

func (a *Agent) lookup(req *sip.Request) *Session {
	cid := req.CallID()
	if cid == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[cid.Value()]
}
