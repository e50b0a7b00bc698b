package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// CodeRegex validates the normalized pairing code format: 6 base-36
	// uppercase characters.
	CodeRegex = regexp.MustCompile(`^[0-9A-Z]{6}$`)
)

// ValidateCode validates a normalized pairing code.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("pairing code is required")
	}
	if !CodeRegex.MatchString(code) {
		return fmt.Errorf("invalid pairing code format")
	}
	return nil
}

// ValidateSDP performs shape validation on a session description before the
// relay forwards it. The relay never interprets the SDP beyond this.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field %q", field)
		}
	}
	return nil
}

// ValidateCandidate performs shape validation on a JSON-encoded ICE candidate.
func ValidateCandidate(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return fmt.Errorf("ICE candidate is required")
	}
	return nil
}
