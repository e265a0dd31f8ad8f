// ABOUTME: Error taxonomy for the chat service
// ABOUTME: Sentinels matched with errors.Is; specific validation causes wrap ErrValidation

package chat

import (
	"errors"
	"fmt"
)

// ErrValidation is the base class for rejected input. Specific causes wrap
// it so callers can match either the class or the cause.
var ErrValidation = errors.New("validation failed")

// ErrSelfConversation rejects resolving a conversation with oneself.
var ErrSelfConversation = fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)

// ErrEmptyMessage rejects a message whose body is empty after trimming.
var ErrEmptyMessage = fmt.Errorf("%w: message body is empty", ErrValidation)

// ErrUnknownUser rejects a conversation target that does not exist.
var ErrUnknownUser = fmt.Errorf("%w: target user does not exist", ErrValidation)

// ErrForbidden is returned when a user touches a conversation they are not
// a participant of.
var ErrForbidden = errors.New("not a conversation participant")

// ErrUnavailable wraps transient storage failures. The caller decides
// whether to retry; a retried send without a client key may duplicate.
var ErrUnavailable = errors.New("storage unavailable")

// unavailable classifies an unexpected storage error as ErrUnavailable.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
