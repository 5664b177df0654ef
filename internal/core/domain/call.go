package domain

// Phase is the lifecycle position of a direct call.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDialing     Phase = "dialing"
	PhaseRinging     Phase = "ringing"
	PhaseNegotiating Phase = "negotiating"
	PhaseActive      Phase = "active"
	PhaseEnded       Phase = "ended"
)

func (p Phase) rank() int {
	switch p {
	case PhaseIdle:
		return 0
	case PhaseDialing, PhaseRinging:
		return 1
	case PhaseNegotiating:
		return 2
	case PhaseActive:
		return 3
	case PhaseEnded:
		return 4
	}
	return -1
}

// CanAdvance reports whether a call may move from p to next. Phases only
// move forward; dialing and ringing are alternative entries, never a step
// from one to the other.
func (p Phase) CanAdvance(next Phase) bool {
	if p == PhaseEnded || next.rank() < 0 {
		return false
	}
	if next == PhaseEnded {
		return true
	}
	return next.rank() > p.rank()
}

// EndReason says why a call or room session finished.
type EndReason string

const (
	EndLocalHangup     EndReason = "hangup"
	EndLocalDecline    EndReason = "declined"
	EndRemoteHangup    EndReason = "remote_hangup"
	EndRemoteDecline   EndReason = "remote_declined"
	EndMediaFailure    EndReason = "media_failure"
	EndConnectionFail  EndReason = "connection_failed"
	EndRingTimeout     EndReason = "ring_timeout"
	EndAnswerTimeout   EndReason = "answer_timeout"
	EndSignalingFailed EndReason = "signaling_failed"
	EndShutdown        EndReason = "shutdown"
)

// Remote reports whether the other party caused the end.
func (r EndReason) Remote() bool {
	return r == EndRemoteHangup || r == EndRemoteDecline
}

// CallState is the read-only snapshot of the open direct call, if any.
type CallState struct {
	Open       bool
	Caller     bool
	Kind       MediaKind
	LocalUser  UserID
	RemoteUser UserID
	Phase      Phase
}
