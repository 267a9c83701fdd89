// Package protocol defines the relay wire protocol: every frame is a JSON object
// {"type": ..., "payload": ...} whose payload shape is fixed by the type.
package protocol

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MessageType string

// Client -> relay.
const (
	TypeJoinRoom  MessageType = "join-room"
	TypeLeaveRoom MessageType = "leave-room"
	TypeSignal    MessageType = "signal"
)

// Relay -> client.
const (
	TypeRoomUsers  MessageType = "room-users"
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"
	TypeError      MessageType = "error"
)

// ClientMessage is one of JoinRoom, LeaveRoom, SignalTo.
type ClientMessage interface {
	Type() MessageType
	isClientMessage()
}

// ServerMessage is one of RoomUsers, UserJoined, SignalFrom, UserLeft, Error.
type ServerMessage interface {
	Type() MessageType
	isServerMessage()
}

type JoinRoom struct {
	RoomID     domain.RoomID `json:"roomId" validate:"required,max=128"`
	Username   string        `json:"username" validate:"required,max=64"`
	ProfilePic string        `json:"profilePic" validate:"omitempty,max=2048"`
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
}

// SignalTo without a target is broadcast to the sender's rooms.
type SignalTo struct {
	To   domain.ParticipantID `json:"to,omitempty" validate:"omitempty,max=64"`
	Data SignalData           `json:"data"`
}

type RoomUsers struct {
	Users []domain.Participant
}

type UserJoined struct {
	domain.Participant
}

type SignalFrom struct {
	From domain.ParticipantID `json:"from" validate:"required,max=64"`
	Data SignalData           `json:"data"`
}

type UserLeft struct {
	ID domain.ParticipantID
}

type Error struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message,omitempty"`
}

func (JoinRoom) Type() MessageType   { return TypeJoinRoom }
func (LeaveRoom) Type() MessageType  { return TypeLeaveRoom }
func (SignalTo) Type() MessageType   { return TypeSignal }
func (RoomUsers) Type() MessageType  { return TypeRoomUsers }
func (UserJoined) Type() MessageType { return TypeUserJoined }
func (SignalFrom) Type() MessageType { return TypeSignal }
func (UserLeft) Type() MessageType   { return TypeUserLeft }
func (Error) Type() MessageType      { return TypeError }

func (JoinRoom) isClientMessage()  {}
func (LeaveRoom) isClientMessage() {}
func (SignalTo) isClientMessage()  {}

func (RoomUsers) isServerMessage()  {}
func (UserJoined) isServerMessage() {}
func (SignalFrom) isServerMessage() {}
func (UserLeft) isServerMessage()   {}
func (Error) isServerMessage()      {}

// Error codes sent to clients.
const (
	CodeBadPayload  = "bad_payload"
	CodeUnknownType = "unknown_type"
	CodeRateLimited = "rate_limited"
	CodeNotInRoom   = "not_in_room"
)

// SignalKind names the negotiation artifact carried by a signal.
type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
)

// SignalData carries exactly one of offer, answer or candidate.
type SignalData struct {
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func OfferData(sd webrtc.SessionDescription) SignalData  { return SignalData{Offer: &sd} }
func AnswerData(sd webrtc.SessionDescription) SignalData { return SignalData{Answer: &sd} }
func CandidateData(c webrtc.ICECandidateInit) SignalData { return SignalData{Candidate: &c} }

// Kind reports which artifact is set. It fails unless exactly one is.
func (d SignalData) Kind() (SignalKind, error) {
	var kind SignalKind
	n := 0
	if d.Offer != nil {
		kind, n = KindOffer, n+1
	}
	if d.Answer != nil {
		kind, n = KindAnswer, n+1
	}
	if d.Candidate != nil {
		kind, n = KindCandidate, n+1
	}
	if n != 1 {
		return "", malformed("signal data must carry exactly one of offer, answer, candidate")
	}
	return kind, nil
}
