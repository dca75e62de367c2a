package trade

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

var (
	buyerID  = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	sellerID = uuid.MustParse("00000000-0000-0000-0000-0000000000e1")
	outsider = uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newTrade(status models.TradeStatus, option models.TradeOption) models.Trade {
	return models.Trade{
		ID:              uuid.New(),
		BuyerID:         buyerID,
		SellerID:        sellerID,
		TargetProductID: uuid.New(),
		Items:           []models.TradeItem{{ProductID: uuid.New(), OfferedBy: models.PartyBuyer}},
		Status:          status,
		TradeOption:     option,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

func counterPayload() models.ActionPayload {
	return models.ActionPayload{Items: []models.TradeItem{{ProductID: uuid.New(), OfferedBy: models.PartyBuyer}}}
}

func TestEngine_TransitionGraph(t *testing.T) {
	e := NewEngine(0)
	now := baseTime.Add(time.Hour)

	tests := []struct {
		name   string
		from   models.TradeStatus
		actor  uuid.UUID
		action models.Action
		want   models.TradeStatus
		reason string
	}{
		{"seller accepts pending", models.StatusPending, sellerID, models.ActionAccept, models.StatusAccepted, ""},
		{"seller accepts countered", models.StatusCountered, sellerID, models.ActionAccept, models.StatusAccepted, ""},
		{"buyer cannot accept", models.StatusPending, buyerID, models.ActionAccept, "", ReasonRole},
		{"seller declines pending", models.StatusPending, sellerID, models.ActionDecline, models.StatusDeclined, ""},
		{"seller declines countered", models.StatusCountered, sellerID, models.ActionDecline, models.StatusDeclined, ""},
		{"buyer cancels pending", models.StatusPending, buyerID, models.ActionCancel, models.StatusCancelled, ""},
		{"buyer cancels countered", models.StatusCountered, buyerID, models.ActionCancel, models.StatusCancelled, ""},
		{"seller cannot cancel", models.StatusPending, sellerID, models.ActionCancel, "", ReasonRole},
		{"seller counters pending", models.StatusPending, sellerID, models.ActionCounter, models.StatusCountered, ""},
		{"cannot counter countered", models.StatusCountered, sellerID, models.ActionCounter, "", ReasonStatus},
		{"cannot accept accepted", models.StatusAccepted, sellerID, models.ActionAccept, "", ReasonStatus},
		{"cannot cancel active", models.StatusActive, buyerID, models.ActionCancel, "", ReasonStatus},
		{"delivery completes from accepted", models.StatusAccepted, buyerID, models.ActionComplete, models.StatusCompleted, ""},
		{"delivery completes from active", models.StatusActive, sellerID, models.ActionComplete, models.StatusCompleted, ""},
		{"cannot complete pending", models.StatusPending, sellerID, models.ActionComplete, "", ReasonStatus},
		{"outsider rejected", models.StatusPending, outsider, models.ActionAccept, "", ReasonNotParticipant},
		{"unknown action", models.StatusPending, sellerID, models.Action("barter"), "", ReasonUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTrade(tt.from, models.OptionDelivery)
			payload := models.ActionPayload{}
			if tt.action == models.ActionCounter {
				payload = counterPayload()
			}

			next, err := e.Apply(tr, tt.actor, tt.action, payload, now)
			if tt.reason != "" {
				var te *InvalidTransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.reason, te.Reason)
				assert.Equal(t, tr, next, "state must be unchanged")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.Status)
			assert.Equal(t, now, next.UpdatedAt)
			assert.Equal(t, tt.from, tr.Status, "input must not be mutated")
		})
	}
}

func TestEngine_TerminalStatesRejectEverything(t *testing.T) {
	e := NewEngine(0)
	actions := []models.Action{
		models.ActionAccept, models.ActionDecline, models.ActionCancel, models.ActionCounter,
		models.ActionConfirmMeetup, models.ActionComplete, models.ActionExpire,
	}
	for _, status := range []models.TradeStatus{models.StatusDeclined, models.StatusCancelled, models.StatusExpired, models.StatusCompleted} {
		for _, action := range actions {
			for _, actor := range []uuid.UUID{buyerID, sellerID} {
				tr := newTrade(status, models.OptionMeetup)
				next, err := e.Apply(tr, actor, action, counterPayload(), baseTime)

				require.Error(t, err, "%s/%s", status, action)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.True(t, errors.Is(err, ErrStaleState), "terminal state requires refresh")
				assert.True(t, NeedsRefresh(err))
				assert.Equal(t, tr, next)
			}
		}
	}
}

func TestEngine_DeclineRecordsFeedback(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusPending, models.OptionMeetup)

	next, err := e.Apply(tr, sellerID, models.ActionDecline, models.ActionPayload{Feedback: "too low"}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, next.Status)
	assert.Equal(t, "too low", next.DeclineFeedback)
	assert.Nil(t, next.CompletedAt)
}

func TestEngine_CounterReplacesBundle(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusPending, models.OptionDelivery)

	t.Run("empty bundle rejected", func(t *testing.T) {
		_, err := e.Apply(tr, sellerID, models.ActionCounter, models.ActionPayload{}, baseTime)
		var te *InvalidTransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ReasonEmptyBundle, te.Reason)
	})

	t.Run("bundle copied", func(t *testing.T) {
		payload := counterPayload()
		next, err := e.Apply(tr, sellerID, models.ActionCounter, payload, baseTime)
		require.NoError(t, err)
		assert.Equal(t, payload.Items, next.Items)

		payload.Items[0].Title = "mutated"
		assert.Empty(t, next.Items[0].Title)
		assert.NotEqual(t, tr.Items[0].ProductID, next.Items[0].ProductID)
	})
}

func TestEngine_MeetupCompletionGating(t *testing.T) {
	e := NewEngine(0)
	now := baseTime.Add(time.Hour)

	for _, status := range []models.TradeStatus{models.StatusAccepted, models.StatusActive} {
		t.Run(string(status), func(t *testing.T) {
			tr := newTrade(status, models.OptionMeetup)

			_, err := e.Apply(tr, sellerID, models.ActionComplete, models.ActionPayload{}, now)
			require.Error(t, err)
			assert.True(t, NeedsMeetupConfirmation(err))
			assert.False(t, NeedsRefresh(err))

			tr, err = e.Apply(tr, buyerID, models.ActionConfirmMeetup, models.ActionPayload{}, now)
			require.NoError(t, err)
			assert.True(t, tr.BuyerMeetupConfirmed)
			assert.False(t, tr.MeetupConfirmed())
			assert.Equal(t, status, tr.Status, "confirmation must not change status")

			_, err = e.Apply(tr, buyerID, models.ActionComplete, models.ActionPayload{}, now)
			assert.True(t, NeedsMeetupConfirmation(err), "one flag is not enough")

			tr, err = e.Apply(tr, sellerID, models.ActionConfirmMeetup, models.ActionPayload{}, now)
			require.NoError(t, err)
			assert.True(t, tr.MeetupConfirmed())

			again, err := e.Apply(tr, sellerID, models.ActionConfirmMeetup, models.ActionPayload{}, now)
			require.NoError(t, err, "confirmation is idempotent")
			assert.True(t, again.SellerMeetupConfirmed)

			done, err := e.Apply(tr, sellerID, models.ActionComplete, models.ActionPayload{}, now)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, done.Status)
			require.NotNil(t, done.CompletedAt)
			assert.Equal(t, now, *done.CompletedAt)
			assert.False(t, done.MeetupConfirmed())
		})
	}
}

func TestEngine_ServerCombinedMeetupFlag(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusActive, models.OptionMeetup)
	tr.MeetupConfirmedFlag = true

	next, err := e.Apply(tr, buyerID, models.ActionComplete, models.ActionPayload{}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, next.Status)
}

func TestEngine_ConfirmMeetupRequiresMeetupOption(t *testing.T) {
	e := NewEngine(0)
	tr := newTrade(models.StatusAccepted, models.OptionDelivery)

	_, err := e.Apply(tr, buyerID, models.ActionConfirmMeetup, models.ActionPayload{}, baseTime)
	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonNotMeetup, te.Reason)

	_, err = e.Apply(newTrade(models.StatusPending, models.OptionMeetup), buyerID, models.ActionConfirmMeetup, models.ActionPayload{}, baseTime)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonStatus, te.Reason)
}

func TestEngine_Expiry(t *testing.T) {
	e := NewEngine(48 * time.Hour)
	tr := newTrade(models.StatusPending, models.OptionDelivery)

	t.Run("fresh offer cannot expire", func(t *testing.T) {
		_, err := e.Apply(tr, uuid.Nil, models.ActionExpire, models.ActionPayload{}, baseTime.Add(time.Hour))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("old offer expires", func(t *testing.T) {
		next, err := e.Apply(tr, uuid.Nil, models.ActionExpire, models.ActionPayload{}, baseTime.Add(72*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, next.Status)
	})

	t.Run("stale accept rejected locally", func(t *testing.T) {
		_, err := e.Apply(tr, sellerID, models.ActionAccept, models.ActionPayload{}, baseTime.Add(72*time.Hour))
		require.Error(t, err)
		assert.True(t, NeedsRefresh(err))
	})

	t.Run("decline still allowed", func(t *testing.T) {
		_, err := e.Apply(tr, sellerID, models.ActionDecline, models.ActionPayload{}, baseTime.Add(72*time.Hour))
		assert.NoError(t, err)
	})
}

func TestEngine_CompletedAtOnlyOnCompletion(t *testing.T) {
	e := NewEngine(0)
	for _, action := range []models.Action{models.ActionAccept, models.ActionDecline, models.ActionCounter} {
		next, err := e.Apply(newTrade(models.StatusPending, models.OptionDelivery), sellerID, action, counterPayload(), baseTime)
		require.NoError(t, err)
		assert.Nil(t, next.CompletedAt, action)
	}
}

func TestEngine_Allowed(t *testing.T) {
	e := NewEngine(0)

	pending := newTrade(models.StatusPending, models.OptionMeetup)
	assert.ElementsMatch(t,
		[]models.Action{models.ActionAccept, models.ActionDecline, models.ActionCounter},
		e.Allowed(pending, sellerID, baseTime))
	assert.ElementsMatch(t, []models.Action{models.ActionCancel}, e.Allowed(pending, buyerID, baseTime))

	accepted := newTrade(models.StatusAccepted, models.OptionMeetup)
	assert.ElementsMatch(t, []models.Action{models.ActionConfirmMeetup}, e.Allowed(accepted, buyerID, baseTime))

	accepted.BuyerMeetupConfirmed = true
	accepted.SellerMeetupConfirmed = true
	assert.ElementsMatch(t, []models.Action{models.ActionComplete}, e.Allowed(accepted, buyerID, baseTime))

	assert.Empty(t, e.Allowed(newTrade(models.StatusCompleted, models.OptionMeetup), buyerID, baseTime))
}
