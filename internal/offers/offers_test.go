package offers

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-offers/internal/models"
)

var (
	me       = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	alice    = uuid.MustParse("10000000-0000-0000-0000-000000000002")
	bob      = uuid.MustParse("10000000-0000-0000-0000-000000000003")
	baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
)

// syntheticTrades все комбинации статус × роль (я покупатель / я продавец)
func syntheticTrades() []models.Trade {
	var out []models.Trade
	n := 0
	for _, st := range models.AllStatuses {
		for _, mine := range []bool{true, false} {
			n++
			t := models.Trade{
				ID:              uuid.New(),
				Status:          st,
				TargetProductID: uuid.New(),
				CreatedAt:       baseTime.Add(time.Duration(n) * time.Minute),
				UpdatedAt:       baseTime.Add(time.Duration(n) * time.Minute),
			}
			if mine {
				t.BuyerID, t.SellerID = me, alice
			} else {
				t.BuyerID, t.SellerID = alice, me
			}
			if st == models.StatusCompleted {
				at := t.UpdatedAt
				t.CompletedAt = &at
			}
			out = append(out, t)
		}
	}
	return out
}

func expectedBuckets(t models.Trade) []Bucket {
	switch t.Status {
	case models.StatusPending, models.StatusCountered, models.StatusExpired:
		if t.BuyerID == me {
			return []Bucket{BucketSent}
		}
		return []Bucket{BucketReceived}
	case models.StatusAccepted, models.StatusActive:
		return []Bucket{BucketOngoing}
	case models.StatusCompleted:
		return []Bucket{BucketHistory}
	}
	return nil
}

func TestPartition_ExhaustiveAndExclusive(t *testing.T) {
	raw := syntheticTrades()
	parts := Partition(raw, me)

	for _, tr := range raw {
		var got []Bucket
		for _, b := range Buckets {
			for _, x := range parts[b] {
				if x.ID == tr.ID {
					got = append(got, b)
				}
			}
		}
		assert.Equal(t, expectedBuckets(tr), got, "status=%s buyer=%v", tr.Status, tr.BuyerID == me)
	}
}

func TestPartition_DeclinedAndCancelledOnlyInRawList(t *testing.T) {
	raw := syntheticTrades()
	parts := Partition(raw, me)

	for _, b := range Buckets {
		for _, tr := range parts[b] {
			assert.NotEqual(t, models.StatusDeclined, tr.Status)
			assert.NotEqual(t, models.StatusCancelled, tr.Status)
		}
	}
}

func TestCategorize_SearchAndStatusFilter(t *testing.T) {
	raw := []models.Trade{
		{ID: uuid.New(), BuyerID: me, SellerID: alice, Status: models.StatusPending, TargetProductTitle: "Road Bike",
			Seller: &models.User{ID: alice, FirstName: "Alice", LastName: "Liddell"}, CreatedAt: baseTime},
		{ID: uuid.New(), BuyerID: me, SellerID: bob, Status: models.StatusCountered, TargetProductTitle: "Camera",
			Items:  []models.TradeItem{{ProductID: uuid.New(), Title: "Old BIKE helmet"}},
			Seller: &models.User{ID: bob, Username: "bobby"}, CreatedAt: baseTime.Add(time.Hour)},
		{ID: uuid.New(), BuyerID: me, SellerID: bob, Status: models.StatusPending, TargetProductTitle: "Lamp",
			Buyer: &models.User{ID: me, FirstName: "Me"}, Seller: &models.User{ID: bob, Username: "bobby"}, CreatedAt: baseTime.Add(2 * time.Hour)},
	}

	t.Run("title case insensitive", func(t *testing.T) {
		got := Bucketize(raw, me, BucketSent, Query{Search: "bike"})
		require.Len(t, got, 2)
		assert.Equal(t, "Camera", got[0].TargetProductTitle, "newest first")
		assert.Equal(t, "Road Bike", got[1].TargetProductTitle)
	})

	t.Run("counterparty name", func(t *testing.T) {
		got := Bucketize(raw, me, BucketSent, Query{Search: "LIDDELL"})
		require.Len(t, got, 1)
		assert.Equal(t, "Road Bike", got[0].TargetProductTitle)

		got = Bucketize(raw, me, BucketSent, Query{Search: "bobby"})
		assert.Len(t, got, 2)
	})

	t.Run("viewer name does not match", func(t *testing.T) {
		assert.Empty(t, Bucketize(raw, me, BucketSent, Query{Search: "Me"}))
	})

	t.Run("status filter", func(t *testing.T) {
		got := Bucketize(raw, me, BucketSent, Query{Statuses: []models.TradeStatus{models.StatusCountered}})
		require.Len(t, got, 1)
		assert.Equal(t, models.StatusCountered, got[0].Status)
	})

	t.Run("oldest first", func(t *testing.T) {
		got := Bucketize(raw, me, BucketSent, Query{Sort: SortOldest})
		require.Len(t, got, 3)
		assert.Equal(t, "Road Bike", got[0].TargetProductTitle)
		assert.Equal(t, "Lamp", got[2].TargetProductTitle)
	})
}

func TestCategorize_HistorySortsByCompletion(t *testing.T) {
	early := baseTime.Add(time.Hour)
	late := baseTime.Add(5 * time.Hour)
	raw := []models.Trade{
		{ID: uuid.New(), BuyerID: me, SellerID: alice, Status: models.StatusCompleted, TargetProductTitle: "A",
			CreatedAt: baseTime.Add(3 * time.Hour), UpdatedAt: early, CompletedAt: &early},
		{ID: uuid.New(), BuyerID: alice, SellerID: me, Status: models.StatusCompleted, TargetProductTitle: "B",
			CreatedAt: baseTime, UpdatedAt: late, CompletedAt: &late},
		{ID: uuid.New(), BuyerID: alice, SellerID: me, Status: models.StatusCompleted, TargetProductTitle: "C",
			CreatedAt: baseTime, UpdatedAt: baseTime.Add(3 * time.Hour)},
	}

	got := Bucketize(raw, me, BucketHistory, Query{})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"B", "C", "A"}, []string{got[0].TargetProductTitle, got[1].TargetProductTitle, got[2].TargetProductTitle})
}

func TestCount_MatchesManualFilter(t *testing.T) {
	raw := syntheticTrades()
	raw = append(raw, syntheticTrades()...)

	var want Counts
	for _, tr := range raw {
		if tr.BuyerID == me && tr.Status == models.StatusPending {
			want.SentPending++
		}
		if tr.SellerID == me && tr.Status == models.StatusPending {
			want.ReceivedPending++
		}
		if tr.Status == models.StatusAccepted || tr.Status == models.StatusActive {
			want.Ongoing++
		}
		if tr.Status == models.StatusCompleted {
			want.Completed++
		}
	}
	assert.Equal(t, want, Count(raw, me))
	assert.Equal(t, Counts{SentPending: 2, ReceivedPending: 2, Ongoing: 8, Completed: 4}, want)
}

func TestPaginate(t *testing.T) {
	items := make([]models.Trade, 23)
	for i := range items {
		items[i] = models.Trade{ID: uuid.New(), TargetProductTitle: fmt.Sprintf("item-%d", i)}
	}

	tests := []struct {
		k, p, page int
		wantPage   int
		wantLen    int
		wantPages  int
	}{
		{23, 5, 1, 1, 5, 5},
		{23, 5, 5, 5, 3, 5},
		{23, 5, 10, 5, 3, 5},
		{23, 5, -3, 1, 5, 5},
		{20, 5, 4, 4, 5, 4},
		{0, 5, 3, 1, 0, 0},
		{1, 5, 1, 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("k=%d,p=%d,page=%d", tt.k, tt.p, tt.page), func(t *testing.T) {
			got := Paginate(items[:tt.k], tt.page, tt.p)
			assert.Equal(t, tt.wantPage, got.Page)
			assert.Len(t, got.Trades, tt.wantLen)
			assert.Equal(t, tt.wantPages, got.TotalPages)
			assert.Equal(t, tt.k, got.TotalItems)
		})
	}

	t.Run("beyond last page equals last page", func(t *testing.T) {
		last := Paginate(items, PageCount(len(items), 4), 4)
		beyond := Paginate(items, PageCount(len(items), 4)+5, 4)
		assert.Equal(t, last, beyond)
	})
}

func TestBuilder_StaleFallback(t *testing.T) {
	b := NewBuilder(me, 10)
	raw := syntheticTrades()
	b.Replace(raw, baseTime)

	before := b.View(BucketSent, Query{}, 1, nil)
	require.NotEmpty(t, before.Trades)
	assert.False(t, before.Stale)

	b.MarkFailed(errors.New("upstream 503"))
	after := b.View(BucketSent, Query{}, 1, nil)

	assert.True(t, after.Stale)
	assert.Equal(t, "upstream 503", after.Error)
	assert.Equal(t, before.Trades, after.Trades, "previous data stays visible")
	assert.Equal(t, before.Counts, after.Counts)

	b.Replace(raw[:2], baseTime.Add(time.Minute))
	assert.False(t, b.Status().Stale)
}

func TestBuilder_CountsIgnoreFiltersAndPages(t *testing.T) {
	b := NewBuilder(me, 1)
	raw := syntheticTrades()
	b.Replace(raw, baseTime)

	full := b.View(BucketOngoing, Query{}, 1, nil)
	filtered := b.View(BucketOngoing, Query{Search: "nothing matches this"}, 3, nil)

	assert.Equal(t, Count(raw, me), full.Counts)
	assert.Equal(t, full.Counts, filtered.Counts)
	assert.Empty(t, filtered.Trades)
}

func TestBuilder_IndependentCursors(t *testing.T) {
	b := NewBuilder(me, 1)
	b.Replace(syntheticTrades(), baseTime)

	v := b.View(BucketOngoing, Query{}, 3, nil)
	assert.Equal(t, 3, v.Page.Page)

	v = b.View(BucketSent, Query{}, 2, nil)
	assert.Equal(t, 2, v.Page.Page)

	v = b.View(BucketOngoing, Query{}, 0, nil)
	assert.Equal(t, 3, v.Page.Page, "switching tabs keeps position")
	assert.Equal(t, 2, b.Cursor(BucketSent))
	assert.Equal(t, 1, b.Cursor(BucketHistory))
}

func TestBuilder_TransformAndUpsert(t *testing.T) {
	b := NewBuilder(me, 10)
	tr := models.Trade{ID: uuid.New(), BuyerID: me, SellerID: alice, Status: models.StatusPending, CreatedAt: baseTime}
	b.Replace([]models.Trade{tr}, baseTime)

	v := b.View(BucketSent, Query{}, 1, func(in []models.Trade) []models.Trade {
		in[0].TargetProductTitle = "annotated"
		return in
	})
	require.Len(t, v.Trades, 1)
	assert.Equal(t, "annotated", v.Trades[0].TargetProductTitle)
	raw := b.Raw()
	assert.Empty(t, raw[0].TargetProductTitle, "transform does not touch stored list")

	tr.Status = models.StatusAccepted
	b.Upsert(tr)
	assert.Equal(t, Counts{Ongoing: 1}, b.Counts())
	got, ok := b.Find(tr.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, got.Status)
}
