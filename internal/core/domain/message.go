package domain

import (
	"encoding/json"
	"fmt"
)

// Event names a signaling message on the wire.
type Event string

const (
	EventCallInvite     Event = "call:invite"
	EventCallAccept     Event = "call:accept"
	EventCallDecline    Event = "call:decline"
	EventCallEnd        Event = "call:end"
	EventOffer          Event = "webrtc:offer"
	EventAnswer         Event = "webrtc:answer"
	EventICE            Event = "webrtc:ice"
	EventRoomJoin       Event = "room:join"
	EventRoomLeave      Event = "room:leave"
	EventRoomUsers      Event = "room:users"
	EventRoomUserJoined Event = "room:user-joined"
	EventRoomUserLeft   Event = "room:user-left"
)

// Message is one decoded signaling payload. Each event has its own type.
type Message interface {
	Event() Event
	Validate() error
}

// Parties addresses a direct call control message.
type Parties struct {
	FromUserID UserID `json:"fromUserId,omitempty"`
	ToUserID   UserID `json:"toUserId,omitempty"`
}

func (p Parties) validate() error {
	if p.ToUserID == "" {
		return fmt.Errorf("%w: toUserId is required", ErrMalformedMessage)
	}
	return nil
}

type CallInvite struct {
	Parties
	CallType MediaKind `json:"callType"`
}

func (CallInvite) Event() Event { return EventCallInvite }

func (m CallInvite) Validate() error {
	if !m.CallType.Valid() {
		return fmt.Errorf("%w: callType %q", ErrMalformedMessage, m.CallType)
	}
	return m.Parties.validate()
}

type CallAccept struct{ Parties }

func (CallAccept) Event() Event      { return EventCallAccept }
func (m CallAccept) Validate() error { return m.Parties.validate() }

type CallDecline struct{ Parties }

func (CallDecline) Event() Event      { return EventCallDecline }
func (m CallDecline) Validate() error { return m.Parties.validate() }

type CallEnd struct{ Parties }

func (CallEnd) Event() Event      { return EventCallEnd }
func (m CallEnd) Validate() error { return m.Parties.validate() }

// Route addresses negotiation traffic. Direct calls use the user ids, room
// calls the socket ids. The relay stamps FromUserID and FromSocketID.
type Route struct {
	RoomID       RoomID `json:"roomId,omitempty"`
	FromUserID   UserID `json:"fromUserId,omitempty"`
	ToUserID     UserID `json:"toUserId,omitempty"`
	FromSocketID PeerID `json:"fromSocketId,omitempty"`
	ToSocketID   PeerID `json:"toSocketId,omitempty"`
}

func (r Route) validate() error {
	if r.ToUserID == "" && r.ToSocketID == "" {
		return fmt.Errorf("%w: toUserId or toSocketId is required", ErrMalformedMessage)
	}
	return nil
}

// Direct reports whether the message belongs to a 1:1 call.
func (r Route) Direct() bool {
	return r.RoomID == ""
}

type Offer struct {
	Route
	SDP SessionDescription `json:"sdp"`
}

func (Offer) Event() Event { return EventOffer }

func (m Offer) Validate() error {
	if m.SDP.Type != SDPOffer || m.SDP.SDP == "" {
		return fmt.Errorf("%w: offer without sdp", ErrMalformedMessage)
	}
	return m.Route.validate()
}

type Answer struct {
	Route
	SDP SessionDescription `json:"sdp"`
}

func (Answer) Event() Event { return EventAnswer }

func (m Answer) Validate() error {
	if m.SDP.Type != SDPAnswer || m.SDP.SDP == "" {
		return fmt.Errorf("%w: answer without sdp", ErrMalformedMessage)
	}
	return m.Route.validate()
}

type ICECandidateMsg struct {
	Route
	Candidate ICECandidate `json:"candidate"`
}

func (ICECandidateMsg) Event() Event { return EventICE }

func (m ICECandidateMsg) Validate() error {
	if m.Candidate.Candidate == "" {
		return fmt.Errorf("%w: empty candidate", ErrMalformedMessage)
	}
	return m.Route.validate()
}

type RoomJoin struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

func (RoomJoin) Event() Event      { return EventRoomJoin }
func (m RoomJoin) Validate() error { return requireRoom(m.RoomID) }

type RoomLeave struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

func (RoomLeave) Event() Event      { return EventRoomLeave }
func (m RoomLeave) Validate() error { return requireRoom(m.RoomID) }

// RoomUsers is the roster sent to a socket right after it joins. Users holds
// every other socket in the room.
type RoomUsers struct {
	RoomID RoomID   `json:"roomId,omitempty"`
	Users  []PeerID `json:"users"`
}

func (RoomUsers) Event() Event { return EventRoomUsers }

func (m RoomUsers) Validate() error {
	if m.Users == nil {
		return fmt.Errorf("%w: users is required", ErrMalformedMessage)
	}
	return nil
}

type RoomUserJoined struct {
	RoomID   RoomID `json:"roomId,omitempty"`
	SocketID PeerID `json:"socketId"`
	UserID   UserID `json:"userId,omitempty"`
}

func (RoomUserJoined) Event() Event      { return EventRoomUserJoined }
func (m RoomUserJoined) Validate() error { return requireSocket(m.SocketID) }

type RoomUserLeft struct {
	RoomID   RoomID `json:"roomId,omitempty"`
	SocketID PeerID `json:"socketId"`
	UserID   UserID `json:"userId,omitempty"`
}

func (RoomUserLeft) Event() Event      { return EventRoomUserLeft }
func (m RoomUserLeft) Validate() error { return requireSocket(m.SocketID) }

func requireRoom(id RoomID) error {
	if id == "" {
		return fmt.Errorf("%w: roomId is required", ErrMalformedMessage)
	}
	return nil
}

func requireSocket(id PeerID) error {
	if id == "" {
		return fmt.Errorf("%w: socketId is required", ErrMalformedMessage)
	}
	return nil
}

// Envelope is the JSON frame every signaling message travels in.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var decoders = map[Event]func() Message{
	EventCallInvite:     func() Message { return &CallInvite{} },
	EventCallAccept:     func() Message { return &CallAccept{} },
	EventCallDecline:    func() Message { return &CallDecline{} },
	EventCallEnd:        func() Message { return &CallEnd{} },
	EventOffer:          func() Message { return &Offer{} },
	EventAnswer:         func() Message { return &Answer{} },
	EventICE:            func() Message { return &ICECandidateMsg{} },
	EventRoomJoin:       func() Message { return &RoomJoin{} },
	EventRoomLeave:      func() Message { return &RoomLeave{} },
	EventRoomUsers:      func() Message { return &RoomUsers{} },
	EventRoomUserJoined: func() Message { return &RoomUserJoined{} },
	EventRoomUserLeft:   func() Message { return &RoomUserLeft{} },
}

func EncodeEnvelope(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Event(), err)
	}
	return json.Marshal(Envelope{Event: msg.Event(), Data: data})
}

// DecodeEnvelope parses one frame into its typed message. Unknown events
// yield ErrUnknownEvent, bad payloads ErrMalformedMessage. The returned
// message is a value, never a pointer.
func DecodeEnvelope(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return env.Decode()
}

func (e Envelope) Decode() (Message, error) {
	newMsg, ok := decoders[e.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedMessage, e.Event)
	}
	ptr := newMsg()
	if err := json.Unmarshal(e.Data, ptr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, e.Event, err)
	}
	msg := deref(ptr)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *CallInvite:
		return *v
	case *CallAccept:
		return *v
	case *CallDecline:
		return *v
	case *CallEnd:
		return *v
	case *Offer:
		return *v
	case *Answer:
		return *v
	case *ICECandidateMsg:
		return *v
	case *RoomJoin:
		return *v
	case *RoomLeave:
		return *v
	case *RoomUsers:
		return *v
	case *RoomUserJoined:
		return *v
	case *RoomUserLeft:
		return *v
	}
	return m
}
