package signal

import "encoding/json"

// Message types sent by devices.
const (
	TypeRegisterSource = "register-source"
	TypeJoinViewer     = "join-viewer"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICECandidate   = "ice-candidate"
)

// Message types emitted by the relay.
const (
	TypeRegisterResult   = "register-result"
	TypeJoinResult       = "join-result"
	TypePeerJoined       = "peer-joined"
	TypePeerDisconnected = "peer-disconnected"
)

// Envelope is the wire frame for every relay message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Code string `json:"code"`
}

type SDPPayload struct {
	Code string `json:"code,omitempty"`
	SDP  string `json:"sdp"`
}

type CandidatePayload struct {
	Code      string `json:"code,omitempty"`
	Candidate string `json:"candidate"`
	IsSource  bool   `json:"isSource"`
}

type RegisterResultPayload struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type JoinResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
