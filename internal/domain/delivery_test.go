package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/domain"
)

func TestCanTransition_ForwardPathOnly(t *testing.T) {
	path := domain.DeliveryPath()
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, domain.CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
	// No skipping.
	assert.False(t, domain.CanTransition(domain.DeliveryAccepted, domain.DeliveryAtPickup))
	// No reversing.
	assert.False(t, domain.CanTransition(domain.DeliveryAtDropoff, domain.DeliveryPickedUp))
	// No self loops.
	assert.False(t, domain.CanTransition(domain.DeliveryToPickup, domain.DeliveryToPickup))
}

func TestCanTransition_CancelFromAnyNonTerminal(t *testing.T) {
	for _, s := range domain.DeliveryPath() {
		if s.Terminal() {
			assert.False(t, domain.CanTransition(s, domain.DeliveryCanceled), s)
			continue
		}
		assert.True(t, domain.CanTransition(s, domain.DeliveryCanceled), s)
	}
	assert.False(t, domain.CanTransition(domain.DeliveryCanceled, domain.DeliveryCanceled))
}

func TestCheckTransition_ErrorKinds(t *testing.T) {
	require.ErrorIs(t, domain.CheckTransition(domain.DeliveryAtDropoff, domain.DeliveryPickedUp), domain.ErrInvalidTransition)
	require.ErrorIs(t, domain.CheckTransition(domain.DeliveryCompleted, domain.DeliveryCanceled), domain.ErrTerminalState)
	require.ErrorIs(t, domain.CheckTransition(domain.DeliveryCanceled, domain.DeliveryCreated), domain.ErrTerminalState)
	require.ErrorIs(t, domain.CheckTransition(domain.DeliveryCreated, "TELEPORTED"), domain.ErrValidation)
	require.NoError(t, domain.CheckTransition(domain.DeliveryPickedUp, domain.DeliveryToDropoff))
}

func ptr[T any](v T) *T { return &v }

func TestValidateHistory(t *testing.T) {
	id := uuid.New()
	actor := domain.Actor{UserID: uuid.New(), Role: domain.RoleAdmin}

	build := func(steps ...domain.DeliveryStatus) []domain.DeliveryEvent {
		var out []domain.DeliveryEvent
		var from *domain.DeliveryStatus
		for i, s := range steps {
			e := domain.StatusEvent(id, from, s, actor, fixedTime)
			e.Seq = i + 1
			out = append(out, e)
			from = ptr(s)
		}
		return out
	}

	t.Run("full path", func(t *testing.T) {
		require.NoError(t, domain.ValidateHistory(build(domain.DeliveryPath()...)))
	})

	t.Run("cancel midway", func(t *testing.T) {
		require.NoError(t, domain.ValidateHistory(build(
			domain.DeliveryCreated, domain.DeliveryOffered, domain.DeliveryCanceled)))
	})

	t.Run("skipped edge", func(t *testing.T) {
		err := domain.ValidateHistory(build(domain.DeliveryCreated, domain.DeliveryAccepted))
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("notes are ignored", func(t *testing.T) {
		events := build(domain.DeliveryCreated, domain.DeliveryOffered)
		events = append(events, domain.DeliveryEvent{
			DeliveryID: id, Seq: 3, Kind: domain.EventNoteAdded,
			ToStatus: domain.DeliveryOffered, Note: "gate code 1234",
		})
		require.NoError(t, domain.ValidateHistory(events))
	})

	t.Run("must start at CREATED", func(t *testing.T) {
		events := build(domain.DeliveryCreated, domain.DeliveryOffered)[1:]
		require.ErrorIs(t, domain.ValidateHistory(events), domain.ErrInvalidTransition)
	})
}
