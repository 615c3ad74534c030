package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"hr-messenger/domain"
	"hr-messenger/domain/event"
	"hr-messenger/errors"

	"github.com/go-playground/validator/v10"
)

type Action string

const (
	// Client to server
	ActionJoin        Action = "join"
	ActionSendMessage Action = "sendMessage"

	// Server to client
	ActionReceiveMessage Action = "receiveMessage"
	ActionJoined         Action = "joined"
	ActionMessageAck     Action = "messageAck"
	ActionError          Action = "error"
)

// escapedRuneSize is the widest a single rune gets once JSON encoded (\u003c for '<').
const escapedRuneSize = 6

// frameOverhead covers everything of a sendMessage frame but the text:
// field names, two user ids, the client id and the timestamp.
const frameOverhead = 4096

var validate = validator.New()

// FrameLimit is the size of the largest sendMessage frame whose text holds maxTextLength runes.
func FrameLimit(maxTextLength int) int64 {
	return int64(maxTextLength)*escapedRuneSize + frameOverhead
}

// Envelope is the single frame shape exchanged on the realtime connection.
type Envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	SenderID   string     `json:"senderId" validate:"required"`
	ReceiverID string     `json:"receiverId" validate:"required"`
	Text       string     `json:"text"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	ClientID   string     `json:"clientId,omitempty" validate:"max=64"`
}

type JoinedPayload struct {
	UserID string `json:"userId"`
}

type AckPayload struct {
	ClientID string         `json:"clientId"`
	Message  domain.Message `json:"message"`
}

type ErrorPayload struct {
	ClientID string      `json:"clientId,omitempty"`
	Kind     errors.Kind `json:"kind"`
	Error    string      `json:"error"`
}

// Decode parses a raw frame. The action is not checked against the known set here.
func Decode(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	if envelope.Action == "" {
		return Envelope{}, fmt.Errorf("%w: missing action", errors.ErrInvalidPayload)
	}
	return envelope, nil
}

// DecodeJoin reads the user id of a join frame, a bare JSON string.
func DecodeJoin(payload json.RawMessage) (string, error) {
	var userID string
	if err := json.Unmarshal(payload, &userID); err != nil {
		return "", fmt.Errorf("%w: join expects a user id string", errors.ErrInvalidPayload)
	}
	return userID, nil
}

// DecodeSendMessage reads a sendMessage payload. Unknown fields are rejected.
func DecodeSendMessage(payload json.RawMessage) (domain.SendMessageCommand, error) {
	var p SendMessagePayload
	if err := strict(payload, &p); err != nil {
		return domain.SendMessageCommand{}, err
	}
	if err := validate.Struct(p); err != nil {
		return domain.SendMessageCommand{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return domain.SendMessageCommand{
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Text:       p.Text,
		ClientID:   p.ClientID,
		CreatedAt:  p.CreatedAt,
	}, nil
}

func DecodeMessage(payload json.RawMessage) (domain.Message, error) {
	var message domain.Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return message, nil
}

func DecodeAck(payload json.RawMessage) (AckPayload, error) {
	var ack AckPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		return AckPayload{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return ack, nil
}

func DecodeError(payload json.RawMessage) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return p, nil
}

func DecodeJoined(payload json.RawMessage) (JoinedPayload, error) {
	var p JoinedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return JoinedPayload{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return p, nil
}

// Encode wraps payload into an envelope frame.
func Encode(action Action, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Action: action, Payload: raw})
}

func JoinFrame(userID string) ([]byte, error) {
	return Encode(ActionJoin, userID)
}

func SendMessageFrame(p SendMessagePayload) ([]byte, error) {
	return Encode(ActionSendMessage, p)
}

// EncodeEvent maps a domain event to its server to client frame.
func EncodeEvent(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.MessageReceived:
		return Encode(ActionReceiveMessage, evt.Message)
	case event.MessageAcked:
		return Encode(ActionMessageAck, AckPayload{ClientID: evt.ClientID, Message: evt.Message})
	case event.MessageRejected:
		return Encode(ActionError, ErrorPayload{ClientID: evt.ClientID, Kind: evt.Kind, Error: evt.Reason})
	case event.Joined:
		return Encode(ActionJoined, JoinedPayload{UserID: evt.UserID})
	default:
		return nil, fmt.Errorf("no frame for event %T", e)
	}
}

func strict(payload json.RawMessage, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}
