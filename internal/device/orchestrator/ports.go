package orchestrator

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// MediaSource supplies the local media tracks a source device streams to
// its viewer. Close stops capture and releases the underlying device.
type MediaSource interface {
	Tracks(ctx context.Context) ([]webrtc.TrackLocal, error)
	Close() error
}

// MediaRenderer receives the negotiated remote track on the viewer side.
type MediaRenderer interface {
	Render(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// FrameSink persists still frames pushed over the ancillary capture
// channel.
type FrameSink interface {
	SaveFrame(data []byte) error
}

// SignalTransport is the relay-facing surface the orchestrator drives.
// Implemented by signalclient.Client.
type SignalTransport interface {
	RegisterAsSource(ctx context.Context) (string, error)
	JoinAsViewer(ctx context.Context, code string) error
	SendOffer(sdp string) error
	SendAnswer(sdp string) error
	SendCandidate(candidate string, isSource bool) error

	OnOffer(fn func(sdp string))
	OnAnswer(fn func(sdp string))
	OnCandidate(fn func(candidate string))
	OnPeerJoined(fn func())
	OnPeerDisconnected(fn func())

	Close() error
}

// PeerConnection abstracts the pion peer connection so negotiation logic
// can be exercised without opening network sockets.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (*webrtc.DataChannel, error)

	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnDataChannel(fn func(*webrtc.DataChannel))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// PeerConnectionFactory builds the peer connection for one pairing
// attempt. The default factory wraps webrtc.NewPeerConnection.
type PeerConnectionFactory func(config webrtc.Configuration) (PeerConnection, error)

func defaultPeerConnectionFactory(config webrtc.Configuration) (PeerConnection, error) {
	return webrtc.NewPeerConnection(config)
}
