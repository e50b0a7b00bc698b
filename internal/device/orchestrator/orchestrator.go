package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"paircast/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const captureChannelLabel = "capture"

// ErrNoMediaSource is returned when a source flow starts without a media
// source attached.
var ErrNoMediaSource = errors.New("orchestrator: no media source attached")

// ErrNotStreaming is returned when SendFrame is called before the capture
// channel exists.
var ErrNotStreaming = errors.New("orchestrator: capture channel not open")

// StatsSample is one reading taken from the peer's RTCP receiver reports.
type StatsSample struct {
	FractionLost float64
	Jitter       uint32
}

// Orchestrator owns the peer connection for a single pairing attempt and
// drives offer/answer/candidate negotiation through the relay. One
// orchestrator handles one role; it is not reusable after Stop.
type Orchestrator struct {
	client   SignalTransport
	media    MediaSource
	renderer MediaRenderer
	frames   FrameSink
	machine  *StateMachine
	factory  PeerConnectionFactory
	servers  []string
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	pc       PeerConnection
	capture  *webrtc.DataChannel
	pending  []webrtc.ICECandidateInit
	role     domain.Role
	stopped  bool
	statsFn  func(StatsSample)
	statsCtl chan struct{}
}

type OrchestratorOption func(*Orchestrator)

// WithMediaSource attaches the capture device used in the source flow.
func WithMediaSource(src MediaSource) OrchestratorOption {
	return func(o *Orchestrator) { o.media = src }
}

// WithRenderer attaches the sink for the remote track in the viewer flow.
func WithRenderer(r MediaRenderer) OrchestratorOption {
	return func(o *Orchestrator) { o.renderer = r }
}

// WithFrameSink attaches the still-frame persistence collaborator.
func WithFrameSink(s FrameSink) OrchestratorOption {
	return func(o *Orchestrator) { o.frames = s }
}

// WithSTUNServers sets the ICE servers used when building the peer
// connection.
func WithSTUNServers(urls []string) OrchestratorOption {
	return func(o *Orchestrator) { o.servers = urls }
}

// WithPeerConnectionFactory replaces the pion-backed factory, mainly for
// tests.
func WithPeerConnectionFactory(f PeerConnectionFactory) OrchestratorOption {
	return func(o *Orchestrator) { o.factory = f }
}

func New(client SignalTransport, logger *zap.SugaredLogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		machine:  NewStateMachine(),
		factory:  defaultPeerConnectionFactory,
		servers:  []string{"stun:stun.l.google.com:19302"},
		logger:   logger,
		statsCtl: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current connection state.
func (o *Orchestrator) State() domain.ConnectionState {
	return o.machine.Current()
}

// OnStateChange registers the transition observer. Last registration wins.
func (o *Orchestrator) OnStateChange(fn func(from, to domain.ConnectionState)) {
	o.machine.OnChange(fn)
}

// OnStats registers the receiver for RTCP-derived samples. Last
// registration wins.
func (o *Orchestrator) OnStats(fn func(StatsSample)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statsFn = fn
}

// StartSource acquires local media, builds the peer connection and
// registers with the relay. The returned code is shown to the user;
// negotiation begins when the viewer joins.
func (o *Orchestrator) StartSource(ctx context.Context) (string, error) {
	if o.media == nil {
		return "", ErrNoMediaSource
	}
	if err := o.machine.TransitionTo(domain.StateConnecting); err != nil {
		return "", err
	}
	o.mu.Lock()
	o.role = domain.RoleSource
	o.mu.Unlock()

	tracks, err := o.media.Tracks(ctx)
	if err != nil {
		o.fail(fmt.Errorf("acquiring media: %w", err))
		return "", err
	}

	pc, err := o.buildPeerConnection()
	if err != nil {
		o.fail(err)
		return "", err
	}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			o.fail(fmt.Errorf("attaching track: %w", err))
			return "", err
		}
		if sender != nil {
			go o.drainRTCP(sender)
		}
	}

	capture, err := pc.CreateDataChannel(captureChannelLabel, nil)
	if err != nil {
		o.fail(fmt.Errorf("opening capture channel: %w", err))
		return "", err
	}
	o.mu.Lock()
	o.capture = capture
	o.mu.Unlock()

	o.client.OnPeerJoined(o.sendOffer)
	o.client.OnAnswer(o.applyAnswer)
	o.client.OnCandidate(o.applyRemoteCandidate)
	o.client.OnPeerDisconnected(o.handlePeerLost)

	code, err := o.client.RegisterAsSource(ctx)
	if err != nil {
		o.fail(fmt.Errorf("registering with relay: %w", err))
		return "", err
	}

	o.logger.Infow("registered as source", "code", code)
	return code, nil
}

// StartViewer joins the session identified by code and waits for the
// source's offer. The remote track is handed to the renderer on arrival.
func (o *Orchestrator) StartViewer(ctx context.Context, code string) error {
	if err := o.machine.TransitionTo(domain.StateConnecting); err != nil {
		return err
	}
	o.mu.Lock()
	o.role = domain.RoleViewer
	o.mu.Unlock()

	pc, err := o.buildPeerConnection()
	if err != nil {
		o.fail(err)
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.logger.Infow("remote track arrived", "kind", track.Kind().String())
		if o.renderer != nil {
			o.renderer.Render(track, receiver)
		}
		if err := o.machine.TransitionTo(domain.StateConnected); err != nil {
			o.logger.Debugw("track arrived in terminal state", "error", err)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != captureChannelLabel {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if msg.IsString {
				return
			}
			if o.frames == nil {
				return
			}
			if err := o.frames.SaveFrame(msg.Data); err != nil {
				o.logger.Errorw("persisting still frame", "error", err, "bytes", len(msg.Data))
			}
		})
	})

	o.client.OnOffer(o.applyOfferAndAnswer)
	o.client.OnCandidate(o.applyRemoteCandidate)
	o.client.OnPeerDisconnected(o.handlePeerLost)

	if err := o.client.JoinAsViewer(ctx, code); err != nil {
		o.fail(fmt.Errorf("joining session: %w", err))
		return err
	}

	o.logger.Infow("joined session", "code", code)
	return nil
}

// SendFrame pushes a still-frame byte buffer to the peer over the capture
// channel, outside the media pipeline.
func (o *Orchestrator) SendFrame(data []byte) error {
	o.mu.Lock()
	capture := o.capture
	o.mu.Unlock()
	if capture == nil {
		return ErrNotStreaming
	}
	return capture.Send(data)
}

// Stop tears everything down and returns the machine to disconnected.
// Safe to call repeatedly and from any state.
func (o *Orchestrator) Stop() {
	o.teardown()
	if err := o.machine.TransitionTo(domain.StateDisconnected); err != nil {
		o.logger.Debugw("stop transition", "error", err)
	}
}

func (o *Orchestrator) buildPeerConnection() (PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(o.servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: o.servers}}
	}

	pc, err := o.factory(config)
	if err != nil {
		return nil, fmt.Errorf("building peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			o.logger.Errorw("encoding local candidate", "error", err)
			return
		}
		o.mu.Lock()
		isSource := o.role == domain.RoleSource
		o.mu.Unlock()
		if err := o.client.SendCandidate(string(data), isSource); err != nil {
			o.logger.Warnw("sending local candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.logger.Infow("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if err := o.machine.TransitionTo(domain.StateConnected); err != nil {
				o.logger.Debugw("connected in terminal state", "error", err)
			}
		case webrtc.PeerConnectionStateFailed:
			o.fail(errors.New("peer connection entered failed state"))
		}
	})

	o.mu.Lock()
	o.pc = pc
	o.mu.Unlock()
	return pc, nil
}

func (o *Orchestrator) sendOffer() {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		o.fail(fmt.Errorf("creating offer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		o.fail(fmt.Errorf("setting local offer: %w", err))
		return
	}
	if err := o.client.SendOffer(offer.SDP); err != nil {
		o.fail(fmt.Errorf("sending offer: %w", err))
	}
}

func (o *Orchestrator) applyAnswer(sdp string) {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(desc); err != nil {
		o.fail(fmt.Errorf("setting remote answer: %w", err))
		return
	}
	o.flushPendingCandidates(pc)

	if err := o.machine.TransitionTo(domain.StateConnected); err != nil {
		o.logger.Debugw("answer arrived in terminal state", "error", err)
	}
}

func (o *Orchestrator) applyOfferAndAnswer(sdp string) {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(desc); err != nil {
		o.fail(fmt.Errorf("setting remote offer: %w", err))
		return
	}
	o.flushPendingCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		o.fail(fmt.Errorf("creating answer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		o.fail(fmt.Errorf("setting local answer: %w", err))
		return
	}
	if err := o.client.SendAnswer(answer.SDP); err != nil {
		o.fail(fmt.Errorf("sending answer: %w", err))
	}
}

// applyRemoteCandidate applies a relayed candidate, buffering it when the
// remote description is not set yet. Candidates may legitimately arrive
// before the SDP exchange completes.
func (o *Orchestrator) applyRemoteCandidate(candidate string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		o.logger.Warnw("malformed remote candidate", "error", err)
		return
	}

	o.mu.Lock()
	pc := o.pc
	if pc == nil {
		o.mu.Unlock()
		return
	}
	if pc.RemoteDescription() == nil {
		o.pending = append(o.pending, init)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		o.logger.Warnw("applying remote candidate", "error", err)
	}
}

func (o *Orchestrator) flushPendingCandidates(pc PeerConnection) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			o.logger.Warnw("applying buffered candidate", "error", err)
		}
	}
}

func (o *Orchestrator) handlePeerLost() {
	o.logger.Infow("peer disconnected")
	o.teardown()
	if err := o.machine.TransitionTo(domain.StateDisconnected); err != nil {
		o.logger.Debugw("peer-lost transition", "error", err)
	}
}

// fail marks the session unrecoverable and releases everything. The user
// must re-pair; there is no automatic retry.
func (o *Orchestrator) fail(err error) {
	o.logger.Errorw("pairing failed", "error", err)
	if terr := o.machine.TransitionTo(domain.StateFailed); terr != nil {
		o.logger.Debugw("fail transition", "error", terr)
	}
	o.teardown()
}

func (o *Orchestrator) teardown() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	capture := o.capture
	pc := o.pc
	o.capture = nil
	o.pc = nil
	o.pending = nil
	close(o.statsCtl)
	o.mu.Unlock()

	if capture != nil {
		if err := capture.Close(); err != nil {
			o.logger.Debugw("closing capture channel", "error", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			o.logger.Debugw("closing peer connection", "error", err)
		}
	}
	if o.media != nil {
		if err := o.media.Close(); err != nil {
			o.logger.Debugw("releasing media", "error", err)
		}
	}
	if err := o.client.Close(); err != nil {
		o.logger.Debugw("closing relay client", "error", err)
	}
}

// drainRTCP reads receiver reports from the peer and feeds loss and
// jitter readings to the stats callback.
func (o *Orchestrator) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-o.statsCtl:
			return
		default:
		}

		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			o.logger.Debugw("malformed rtcp", "error", err)
			continue
		}
		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range report.Reports {
				o.emitStats(StatsSample{
					FractionLost: float64(r.FractionLost) / 256,
					Jitter:       r.Jitter,
				})
			}
		}
	}
}

func (o *Orchestrator) emitStats(sample StatsSample) {
	o.mu.Lock()
	fn := o.statsFn
	o.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}
