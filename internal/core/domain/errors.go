package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found or expired")
	ErrAlreadyBound    = errors.New("session already has a viewer")
	ErrCodeTaken       = errors.New("pairing code already in use")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnauthorized    = errors.New("sender does not hold the required role")
	ErrPeerNotLive     = errors.New("peer connection is not live")
)
