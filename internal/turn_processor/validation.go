package turn_processor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes bounds the length of an inbound message.
const MaxMessageRunes = 2000

// ErrInvalidInput marks requests rejected before a turn starts.
var ErrInvalidInput = errors.New("invalid input")

var (
	conversationIDRe = regexp.MustCompile(`^[A-Za-z0-9:_.-]{1,100}$`)

	scriptTagRe    = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	danglingTagRe  = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>`)
	schemeRe       = regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// ValidateConversationID checks the shape of a conversation id.
func ValidateConversationID(id string) error {
	if !conversationIDRe.MatchString(id) {
		return fmt.Errorf("%w: conversation id must be 1-100 characters of letters, digits, ':', '_', '.', '-'", ErrInvalidInput)
	}
	return nil
}

// SanitizeMessage strips markup that could run as script in a web client
// and checks the length.
func SanitizeMessage(message string) (string, error) {
	if !utf8.ValidString(message) {
		return "", fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageRunes {
		return "", fmt.Errorf("%w: message has %d characters, the limit is %d", ErrInvalidInput, n, MaxMessageRunes)
	}

	clean := scriptTagRe.ReplaceAllString(message, "")
	clean = danglingTagRe.ReplaceAllString(clean, "")
	clean = schemeRe.ReplaceAllString(clean, "")
	clean = eventHandlerRe.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean), nil
}
