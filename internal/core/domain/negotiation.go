package domain

// NegotiationKind names one leg of the SDP/ICE exchange routed by the
// relay. Negotiation messages carry no identity beyond the code used to
// route them; the relay resolves the delivery target from the session,
// never from the message.
type NegotiationKind string

const (
	NegotiationOffer     NegotiationKind = "offer"
	NegotiationAnswer    NegotiationKind = "answer"
	NegotiationCandidate NegotiationKind = "ice-candidate"
)
