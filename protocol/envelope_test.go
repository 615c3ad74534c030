package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hr-messenger/domain"
	"hr-messenger/domain/event"
	"hr-messenger/errors"

	"github.com/stretchr/testify/require"
)

func TestDecode_Rejects_Malformed_Frames(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":       `{"action":`,
		"missing action": `{"payload":"u1"}`,
		"array":          `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.ErrorIs(t, err, errors.ErrInvalidPayload)
		})
	}
}

func TestDecodeJoin(t *testing.T) {
	req := require.New(t)

	envelope, err := Decode([]byte(`{"action":"join","payload":"u1"}`))
	req.NoError(err)
	req.Equal(ActionJoin, envelope.Action)

	userID, err := DecodeJoin(envelope.Payload)
	req.NoError(err)
	req.Equal("u1", userID)

	_, err = DecodeJoin(json.RawMessage(`{"userId":"u1"}`))
	req.ErrorIs(err, errors.ErrInvalidPayload)
}

func TestDecodeSendMessage(t *testing.T) {
	req := require.New(t)

	// Given a frame carrying an optional client timestamp
	cmd, err := DecodeSendMessage(json.RawMessage(
		`{"senderId":"u1","receiverId":"u2","text":"hi","createdAt":"2026-03-01T09:00:00Z","clientId":"c-1"}`))

	// Then every field is carried over
	req.NoError(err)
	req.Equal("u1", cmd.SenderID)
	req.Equal("u2", cmd.ReceiverID)
	req.Equal("hi", cmd.Text)
	req.Equal("c-1", cmd.ClientID)
	req.NotNil(cmd.CreatedAt)
	req.True(cmd.CreatedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestDecodeSendMessage_Rejects(t *testing.T) {
	for name, payload := range map[string]string{
		"unknown field":    `{"senderId":"u1","receiverId":"u2","text":"hi","isRead":true}`,
		"missing sender":   `{"receiverId":"u2","text":"hi"}`,
		"missing receiver": `{"senderId":"u1","text":"hi"}`,
		"wrong type":       `{"senderId":1,"receiverId":"u2","text":"hi"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSendMessage(json.RawMessage(payload))
			require.ErrorIs(t, err, errors.ErrInvalidPayload)
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	req := require.New(t)
	message := domain.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	// receiveMessage carries the persisted message as is
	frame, err := EncodeEvent(event.MessageReceived{Message: message})
	req.NoError(err)
	envelope, err := Decode(frame)
	req.NoError(err)
	req.Equal(ActionReceiveMessage, envelope.Action)
	decoded, err := DecodeMessage(envelope.Payload)
	req.NoError(err)
	req.Equal(message, decoded)

	// error keeps the client reference and the kind
	frame, err = EncodeEvent(event.Rejected("u1", "c-1", errors.ErrEmptyText))
	req.NoError(err)
	envelope, err = Decode(frame)
	req.NoError(err)
	req.Equal(ActionError, envelope.Action)
	p, err := DecodeError(envelope.Payload)
	req.NoError(err)
	req.Equal(ErrorPayload{ClientID: "c-1", Kind: errors.KindValidation, Error: errors.ErrEmptyText.Error()}, p)
}

func TestEncodeEvent_Joined_And_Ack(t *testing.T) {
	req := require.New(t)

	frame, err := EncodeEvent(event.Joined{UserID: "u1"})
	req.NoError(err)
	req.JSONEq(`{"action":"joined","payload":{"userId":"u1"}}`, string(frame))

	frame, err = EncodeEvent(event.MessageAcked{ClientID: "c-9", Message: domain.Message{ID: "m9"}})
	req.NoError(err)
	envelope, err := Decode(frame)
	req.NoError(err)
	ack, err := DecodeAck(envelope.Payload)
	req.NoError(err)
	req.Equal("c-9", ack.ClientID)
	req.Equal("m9", ack.Message.ID)
}

func TestFrameLimit_Fits_Worst_Case_Send(t *testing.T) {
	req := require.New(t)
	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

	// Given every field at its maximum length, made of characters JSON escapes
	frame, err := SendMessageFrame(SendMessagePayload{
		SenderID:   strings.Repeat("<", 128),
		ReceiverID: strings.Repeat(">", 128),
		Text:       strings.Repeat("&", domain.DefaultMaxTextLength),
		CreatedAt:  &createdAt,
		ClientID:   strings.Repeat("<", 64),
	})
	req.NoError(err)

	// Then the frame stays under the limit derived from the text length
	req.Greater(len(frame), 6*domain.DefaultMaxTextLength)
	req.LessOrEqual(int64(len(frame)), FrameLimit(domain.DefaultMaxTextLength))
}
