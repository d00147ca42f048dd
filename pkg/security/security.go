// Package security provides validation, sanitization, and limits for the reelpipe package.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits and configuration
const (
	// MaxCaptionLength is the platform ceiling for caption length.
	MaxCaptionLength = 2200

	// MaxHashtagCount is the platform ceiling for hashtags in a caption.
	MaxHashtagCount = 30

	// MaxRetries is the hard limit for scheduled-post retry attempts.
	MaxRetries = 100

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// MaxInFlightClips is the hard cap on concurrent async clip jobs per
	// provider, regardless of what the plan-level limit is configured to.
	MaxInFlightClips = 100
)

// hashtagPattern matches hashtags the way the platform counts them.
var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// ExtractHashtags returns the hashtags present in a caption.
func ExtractHashtags(caption string) []string {
	return hashtagPattern.FindAllString(caption, -1)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate to max length, respecting rune boundaries
	if len(result) > MaxErrorMessageLength {
		truncated := result[:MaxErrorMessageLength]
		for !utf8.ValidString(truncated) {
			truncated = truncated[:len(truncated)-1]
		}
		result = truncated + "... (truncated)"
	}

	return result
}

// ClampRetries ensures a retry count is within limits.
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampInFlight ensures an in-flight clip limit is within limits.
func ClampInFlight(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxInFlightClips {
		return MaxInFlightClips
	}
	return n
}

// SignPayload computes the hex HMAC-SHA256 signature of a webhook body.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid signature for body.
// Comparison is constant-time.
func VerifySignature(secret, body []byte, sig string) bool {
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
