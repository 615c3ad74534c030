package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"hr-messenger/errors"

	"github.com/go-playground/validator/v10"
)

const DefaultMaxTextLength = 4000

var validate = validator.New()

// SendMessageCommand is the intent of a joined connection to send a direct message.
type SendMessageCommand struct {
	SenderID   string
	ReceiverID string
	Text       string
	ClientID   string
	// CreatedAt is the client clock, informative only. The store assigns the persisted timestamp.
	CreatedAt *time.Time
}

// Validate rejects commands that must never reach the store.
func (c SendMessageCommand) Validate(maxLength int) error {
	if err := ValidateUserID(c.SenderID); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := ValidateUserID(c.ReceiverID); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return ValidateText(c.Text, maxLength)
}

// MarkReadCommand flags every unread message from SenderID to ReceiverID as read.
type MarkReadCommand struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

func (c MarkReadCommand) Validate() error {
	if err := ValidateUserID(c.SenderID); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if err := ValidateUserID(c.ReceiverID); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return nil
}

// HistoryQuery selects the conversation between UserA and UserB.
type HistoryQuery struct {
	UserA string
	UserB string
}

func (q HistoryQuery) Validate() error {
	if err := ValidateUserID(q.UserA); err != nil {
		return err
	}
	return ValidateUserID(q.UserB)
}

// ValidateUserID accepts opaque identifiers that can be used as storage key segments.
func ValidateUserID(id string) error {
	if err := validate.Var(id, "required,max=128,excludesall=:/"); err != nil {
		return fmt.Errorf("%w: %q", errors.ErrInvalidUserID, id)
	}
	if strings.ContainsFunc(id, unicode.IsSpace) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidUserID, id)
	}
	return nil
}

// ValidateText rejects blank bodies and bodies longer than maxLength runes.
// A maxLength of zero or less disables the length check.
func ValidateText(text string, maxLength int) error {
	if strings.TrimSpace(text) == "" {
		return errors.ErrEmptyText
	}
	if maxLength > 0 && utf8.RuneCountInString(text) > maxLength {
		return fmt.Errorf("%w: more than %d characters", errors.ErrTextTooLong, maxLength)
	}
	return nil
}
