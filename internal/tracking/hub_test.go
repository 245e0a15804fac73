package tracking_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/tracking"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_Publish_DeliversToMatchingObservers(t *testing.T) {
	h := tracking.NewHub(4, quietLogger())
	trips := domain.AgentTrip
	all := h.Subscribe("all", nil)
	onlyTrips := h.Subscribe("trips", &trips)

	h.Publish(tracking.Event{Type: tracking.EventAgentConnected, AgentID: uuid.New(), AgentKind: domain.AgentDelivery})

	require.Len(t, all.Send, 1)
	assert.Len(t, onlyTrips.Send, 0)

	var ev tracking.Event
	require.NoError(t, json.Unmarshal(<-all.Send, &ev))
	assert.Equal(t, tracking.EventAgentConnected, ev.Type)
}

func TestHub_Publish_DropsSlowObserver(t *testing.T) {
	h := tracking.NewHub(2, quietLogger())
	slow := h.Subscribe("slow", nil)
	fast := h.Subscribe("fast", nil)

	for i := 0; i < 3; i++ {
		h.Publish(tracking.Event{Type: tracking.EventPosition, AgentID: uuid.New()})
		<-fast.Send
	}

	assert.Equal(t, 1, h.Len())

	// buffered messages drain, then the channel reports closed
	<-slow.Send
	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestHub_Unsubscribe_Twice(t *testing.T) {
	h := tracking.NewHub(1, quietLogger())
	o := h.Subscribe("o", nil)
	h.Unsubscribe(o)
	assert.NotPanics(t, func() { h.Unsubscribe(o) })
	assert.Equal(t, 0, h.Len())
}
