package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrade_NormalizeMeetup(t *testing.T) {
	completedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		trade  Trade
		expect bool
	}{
		{
			name:   "both parties confirmed while accepted",
			trade:  Trade{Status: StatusAccepted, BuyerMeetupConfirmed: true, SellerMeetupConfirmed: true},
			expect: true,
		},
		{
			name:   "one party confirmed",
			trade:  Trade{Status: StatusActive, BuyerMeetupConfirmed: true},
			expect: false,
		},
		{
			name: "completed meetup keeps party flags",
			trade: Trade{
				Status:                StatusCompleted,
				BuyerMeetupConfirmed:  true,
				SellerMeetupConfirmed: true,
				MeetupConfirmedFlag:   true,
				CompletedAt:           &completedAt,
			},
			expect: false,
		},
		{
			name:   "server flag on pending trade",
			trade:  Trade{Status: StatusPending, MeetupConfirmedFlag: true},
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.trade
			tr.ID = uuid.New()
			tr.NormalizeMeetup()

			data, err := json.Marshal(tr)
			require.NoError(t, err)
			var out map[string]any
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, tt.expect, out["meetup_confirmed"])
		})
	}
}
