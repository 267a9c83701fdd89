package protocol

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrMalformed marks any frame that cannot be decoded or fails validation.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for a well-formed frame with an unexpected type.
	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrMalformed)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}

// Encode marshals a client or server message into a wire frame.
func Encode(m interface{ Type() MessageType }) ([]byte, error) {
	var body any = m
	switch v := m.(type) {
	case RoomUsers:
		users := v.Users
		if users == nil {
			users = []domain.Participant{}
		}
		body = users
	case UserJoined:
		body = v.Participant
	case UserLeft:
		body = v.ID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}
	return json.Marshal(frame{Type: m.Type(), Payload: raw})
}

// DecodeClient parses a frame sent by a participant to the relay.
func DecodeClient(data []byte) (ClientMessage, error) {
	f, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := decodePayload(f, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLeaveRoom:
		var m LeaveRoom
		if err := decodePayload(f, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSignal:
		var m SignalTo
		if err := decodePayload(f, &m); err != nil {
			return nil, err
		}
		if err := validateSignalData(m.Data); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, f.Type)
	}
}

// DecodeServer parses a frame sent by the relay to a participant.
func DecodeServer(data []byte) (ServerMessage, error) {
	f, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case TypeRoomUsers:
		var users []domain.Participant
		if err := json.Unmarshal(f.Payload, &users); err != nil {
			return nil, malformed(err.Error())
		}
		for _, u := range users {
			if err := validateParticipant(u); err != nil {
				return nil, err
			}
		}
		return RoomUsers{Users: users}, nil
	case TypeUserJoined:
		var p domain.Participant
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, malformed(err.Error())
		}
		if err := validateParticipant(p); err != nil {
			return nil, err
		}
		return UserJoined{Participant: p}, nil
	case TypeUserLeft:
		var id domain.ParticipantID
		if err := json.Unmarshal(f.Payload, &id); err != nil {
			return nil, malformed(err.Error())
		}
		if id == "" {
			return nil, malformed("user-left without id")
		}
		return UserLeft{ID: id}, nil
	case TypeSignal:
		var m SignalFrom
		if err := decodePayload(f, &m); err != nil {
			return nil, err
		}
		if err := validateSignalData(m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeError:
		var m Error
		if err := decodePayload(f, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, f.Type)
	}
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, malformed(err.Error())
	}
	if f.Type == "" {
		return frame{}, malformed("missing type")
	}
	return f, nil
}

func decodePayload(f frame, v any) error {
	if len(f.Payload) == 0 {
		return malformed(fmt.Sprintf("%s without payload", f.Type))
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return malformed(err.Error())
	}
	if err := validate.Struct(v); err != nil {
		return malformed(err.Error())
	}
	return nil
}

func validateParticipant(p domain.Participant) error {
	if p.ID == "" || len(p.ID) > domain.MaxParticipantIDLen {
		return malformed("participant id")
	}
	if len(p.Username) > domain.MaxUsernameLen || len(p.ProfilePic) > domain.MaxProfilePicLen {
		return malformed("participant metadata too long")
	}
	return nil
}

func validateSignalData(d SignalData) error {
	kind, err := d.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case KindOffer:
		if d.Offer.Type != webrtc.SDPTypeOffer || d.Offer.SDP == "" {
			return malformed("invalid offer")
		}
	case KindAnswer:
		if d.Answer.Type != webrtc.SDPTypeAnswer || d.Answer.SDP == "" {
			return malformed("invalid answer")
		}
	case KindCandidate:
		if d.Candidate.Candidate == "" {
			return malformed("empty candidate")
		}
	}
	return nil
}
