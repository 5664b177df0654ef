package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayMetrics(t *testing.T) {
	m := NewRelay()

	m.SocketOpened()
	m.SocketOpened()
	m.SocketClosed()
	m.RoomJoined()
	m.MessageRouted(domain.EventOffer)
	m.MessageRouted(domain.EventOffer)
	m.MessageRejected("server_only")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sockets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.members))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.routed.WithLabelValues("webrtc:offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("server_only")))
}

func TestRelayMetrics_Handler(t *testing.T) {
	m := NewRelay()
	m.MessageRouted(domain.EventCallInvite)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nexus_relay_messages_routed_total{event="call:invite"} 1`)
}
