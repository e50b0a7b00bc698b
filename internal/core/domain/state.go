package domain

// ConnectionState is the device-side peer connection lifecycle state. It is
// owned exclusively by the orchestrator; other components only read it.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// QualityLevel is the coarse link quality classification shown to users.
type QualityLevel string

const (
	QualityGood         QualityLevel = "good"
	QualityFair         QualityLevel = "fair"
	QualityPoor         QualityLevel = "poor"
	QualityDisconnected QualityLevel = "disconnected"
)
