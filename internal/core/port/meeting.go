package port

import (
	"context"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

// MeetingBackend is the platform API that owns meetings.
type MeetingBackend interface {
	StartMeeting(ctx context.Context, id domain.MeetingID) (domain.Meeting, error)
	EndMeeting(ctx context.Context, id domain.MeetingID) error
}
