package port

import "github.com/developer-khadim/Business-nexus/internal/core/domain"

// Ringer plays the incoming call tone. Start and Stop are idempotent.
type Ringer interface {
	Start()
	Stop()
}

// Surface renders streams. Attach may be called again for the same key when
// the stream gains tracks.
type Surface interface {
	Attach(key string, stream *domain.MediaStream)
	Detach(key string)
}
