package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/capitalize-ai/lifeline/internal/model"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateMessageContent checks message text and cuts it to the input limit.
// Blank text is accepted; sending it is a no-op.
func ValidateMessageContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", errors.New("content must be valid UTF-8")
	}
	return model.TruncateInput(content), nil
}

// ValidateAgentID validates an agent ID.
func ValidateAgentID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.New("invalid agent ID format")
	}
	return nil
}

// ValidateSessionID validates a session ID. Session ids double as storage
// keys, so only letters, digits, '-' and '_' are allowed.
func ValidateSessionID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.New("invalid session ID format")
	}
	return nil
}
