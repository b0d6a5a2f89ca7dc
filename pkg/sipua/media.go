package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"

	"github.com/arzzra/webphone/pkg/devices"
	"github.com/arzzra/webphone/pkg/engine"
)

const (
	// frameInterval длительность одного RTP пакета
	frameInterval = 20 * time.Millisecond
	payloadPCMU   = 0
)

// newMediaAPI собирает pion API только с G.711: SIP сервера WebRTC шлюзов
// почти всегда выбирают PCMU.
func newMediaAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: devices.SampleRate},
		PayloadType:        payloadPCMU,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: devices.SampleRate},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMA: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// peer медиа одного звонка: PeerConnection, локальный трек из Source
// и воспроизведение удаленного трека в Sink.
type peer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	src   devices.Source
	sink  devices.Sink
	log   *slog.Logger
	emit  func(engine.Event)
	ref   engine.Ref

	muted atomic.Bool
	quiet atomic.Bool

	mu      sync.Mutex
	local   []byte
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

func newPeer(api *webrtc.API, dev devices.Opener, opts engine.CallOptions, ref engine.Ref,
	emit func(engine.Event), log *slog.Logger) (*peer, error) {
	if !opts.Media.Audio {
		return nil, fmt.Errorf("audio is required")
	}
	src, err := dev.OpenInput(opts.Media.AudioInputID)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", opts.Media.AudioInputID, err)
	}
	sink, err := dev.OpenOutput(opts.AudioOutputID)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("open output %q: %w", opts.AudioOutputID, err)
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		_ = src.Close()
		_ = sink.Close()
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &peer{pc: pc, src: src, sink: sink, log: log, emit: emit, ref: ref}

	p.track, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: devices.SampleRate},
		"audio", "webphone-"+ref.ID,
	)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	tr, err := pc.AddTransceiverFromTrack(p.track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	// RTCP нужно вычитывать, иначе interceptor'ы встанут
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := tr.Sender().Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.notify(engine.PeerConnection{Ref: p.ref, State: s.String()})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.notify(engine.ICEConnectionState{Ref: p.ref, State: s.String()})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.notify(engine.Track{Ref: p.ref, Kind: remote.Kind().String()})
		p.wg.Add(1)
		go p.playRemote(remote)
	})

	return p, nil
}

// notify передает событие, пока peer не закрыт.
func (p *peer) notify(ev engine.Event) {
	if p.quiet.Load() {
		return
	}
	p.emit(ev)
}

// offer создает локальное предложение и ждет сбора кандидатов.
func (p *peer) offer(ctx context.Context) ([]byte, error) {
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return p.gather(ctx, desc)
}

// answer принимает предложение удаленной стороны и формирует ответ.
func (p *peer) answer(ctx context.Context, offer []byte) ([]byte, error) {
	if len(offer) == 0 {
		return nil, fmt.Errorf("empty remote offer")
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  string(offer),
	}); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return p.gather(ctx, desc)
}

func (p *peer) gather(ctx context.Context, desc webrtc.SessionDescription) ([]byte, error) {
	done := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return nil, fmt.Errorf("local description is nil after gathering")
	}
	p.mu.Lock()
	p.local = []byte(local.SDP)
	p.mu.Unlock()
	return []byte(local.SDP), nil
}

// setAnswer применяет ответ удаленной стороны на наше предложение.
func (p *peer) setAnswer(answer []byte) error {
	if p.pc.SignalingState() == webrtc.SignalingStateStable {
		return nil
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(answer),
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// localSDP последнее локальное описание сессии.
func (p *peer) localSDP() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// setLocalSDP запоминает описание, отправленное в re-INVITE.
func (p *peer) setLocalSDP(b []byte) {
	p.mu.Lock()
	p.local = b
	p.mu.Unlock()
}

// setMuted останавливает отправку звука на время удержания.
func (p *peer) setMuted(muted bool) {
	p.muted.Store(muted)
}

// start запускает отправку локального звука.
func (p *peer) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.pump(ctx)
}

// pump читает кадры из Source и отправляет их RTP пакетами каждые 20мс.
func (p *peer) pump(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	pkt := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    payloadPCMU,
		SequenceNumber: uint16(rand.Uint32()),
		Timestamp:      rand.Uint32(),
		SSRC:           rand.Uint32(),
	}}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := p.src.ReadFrame()
		if err != nil {
			p.log.Warn("audio input stopped", slog.String("error", err.Error()))
			return
		}
		if !p.muted.Load() {
			pkt.Payload = frame
			pkt.Marker = false
			if err := p.track.WriteRTP(pkt); err != nil {
				p.log.Debug("write rtp", slog.String("error", err.Error()))
			}
		}
		pkt.SequenceNumber++
		pkt.Timestamp += uint32(devices.FrameSamples)
	}
}

// playRemote отдает полученный звук в Sink, PCMA переводится в PCMU.
func (p *peer) playRemote(remote *webrtc.TrackRemote) {
	defer p.wg.Done()
	alaw := strings.EqualFold(remote.Codec().MimeType, webrtc.MimeTypePCMA)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if p.muted.Load() || len(pkt.Payload) == 0 {
			continue
		}
		payload := pkt.Payload
		if alaw {
			payload = g711.Alaw2Ulaw(payload)
		}
		if err := p.sink.WriteFrame(payload); err != nil {
			p.log.Debug("audio output write", slog.String("error", err.Error()))
			return
		}
	}
}

// close закрывает соединение и устройства. Повторный вызов ничего не делает.
func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()
	p.quiet.Store(true)

	if cancel != nil {
		cancel()
	}
	if err := p.pc.Close(); err != nil {
		p.log.Debug("close peer connection", slog.String("error", err.Error()))
	}
	p.wg.Wait()
	_ = p.src.Close()
	_ = p.sink.Close()
}
