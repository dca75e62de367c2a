package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

func TestReduce_AppliesUnconfirmedAction(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusPending, models.OptionMeetup)
	pending := NewPendingAction(tr, sellerID, models.ActionAccept, models.ActionPayload{}, baseTime.Add(time.Minute))

	view, remaining := e.Reduce([]models.Trade{tr}, []PendingAction{pending})

	require.Len(t, view, 1)
	assert.Equal(t, models.StatusAccepted, view[0].Status)
	assert.Len(t, remaining, 1)
	assert.Equal(t, models.StatusPending, tr.Status, "server list is not mutated")
}

func TestReduce_ServerWins(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusPending, models.OptionMeetup)
	pending := NewPendingAction(tr, sellerID, models.ActionAccept, models.ActionPayload{}, baseTime.Add(time.Minute))

	t.Run("server confirmed", func(t *testing.T) {
		server := tr
		server.Status = models.StatusAccepted
		server.UpdatedAt = baseTime.Add(2 * time.Minute)

		view, remaining := e.Reduce([]models.Trade{server}, []PendingAction{pending})
		assert.Equal(t, models.StatusAccepted, view[0].Status)
		assert.Empty(t, remaining)
	})

	t.Run("server overrode", func(t *testing.T) {
		server := tr
		server.Status = models.StatusCancelled
		server.UpdatedAt = baseTime.Add(2 * time.Minute)

		view, remaining := e.Reduce([]models.Trade{server}, []PendingAction{pending})
		assert.Equal(t, models.StatusCancelled, view[0].Status)
		assert.Empty(t, remaining)
	})

	t.Run("trade gone from list", func(t *testing.T) {
		view, remaining := e.Reduce([]models.Trade{}, []PendingAction{pending})
		assert.Empty(t, view)
		assert.Empty(t, remaining)
	})
}

func TestReduce_StacksActionsOnSameTrade(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusAccepted, models.OptionMeetup)
	now := baseTime.Add(time.Minute)

	view, remaining := e.Reduce([]models.Trade{tr}, []PendingAction{
		NewPendingAction(tr, buyerID, models.ActionConfirmMeetup, models.ActionPayload{}, now),
		NewPendingAction(tr, sellerID, models.ActionConfirmMeetup, models.ActionPayload{}, now),
		NewPendingAction(tr, sellerID, models.ActionComplete, models.ActionPayload{}, now),
	})

	assert.Equal(t, models.StatusCompleted, view[0].Status)
	assert.Len(t, remaining, 3)
}

func TestReduce_DropsInapplicableAction(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusAccepted, models.OptionMeetup)

	view, remaining := e.Reduce([]models.Trade{tr}, []PendingAction{
		NewPendingAction(tr, sellerID, models.ActionComplete, models.ActionPayload{}, baseTime),
	})

	assert.Equal(t, models.StatusAccepted, view[0].Status)
	assert.Empty(t, remaining)
}
