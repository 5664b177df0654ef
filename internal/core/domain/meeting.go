package domain

import "time"

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingLive      MeetingStatus = "live"
	MeetingCompleted MeetingStatus = "completed"
	MeetingCancelled MeetingStatus = "cancelled"
)

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantRejected ParticipantStatus = "rejected"
)

type Participant struct {
	ID     UserID            `json:"id"`
	Name   string            `json:"name"`
	Avatar string            `json:"avatar,omitempty"`
	Status ParticipantStatus `json:"status"`
}

// Meeting is owned by the platform backend. The call subsystem only reads
// RoomID and ID from it and asks the backend to start or end it.
type Meeting struct {
	ID           MeetingID     `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      time.Time     `json:"endTime"`
	Status       MeetingStatus `json:"status"`
	RoomID       RoomID        `json:"roomId,omitempty"`
	RoomURL      string        `json:"roomUrl,omitempty"`
	Participants []Participant `json:"participants"`
}
