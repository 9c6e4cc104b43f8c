package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"price-tracker/internal/domain"
	"price-tracker/internal/source"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu      sync.Mutex
	failing map[int64]bool
	calls   []int64
	price   int64
}

func newFakeSource(price int64, failing ...int64) *fakeSource {
	f := &fakeSource{failing: map[int64]bool{}, price: price}
	for _, article := range failing {
		f.failing[article] = true
	}
	return f
}

func (f *fakeSource) Fetch(ctx context.Context, article int64) (*domain.Snapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, article)
	f.mu.Unlock()

	if f.failing[article] {
		return nil, &source.FetchError{Article: article, Err: errors.New("boom")}
	}
	price := f.price
	return &domain.Snapshot{ID: article, Name: "item", Brand: "brand", Price: &price}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStore struct {
	mu       sync.Mutex
	upserts  []*domain.Snapshot
	ids      []int64
	failOn   int64
	listsErr error
}

func (f *fakeStore) UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != 0 && snap.ID == f.failOn {
		return errors.New("disk on fire")
	}
	f.upserts = append(f.upserts, snap)
	return nil
}

func (f *fakeStore) ListProducts(ctx context.Context, onlyAvailable bool) ([]*domain.Product, error) {
	return nil, nil
}

func (f *fakeStore) ListProductIDs(ctx context.Context) ([]int64, error) {
	return f.ids, f.listsErr
}

func (f *fakeStore) PriceHistory(ctx context.Context, productID int64) ([]*domain.PricePoint, error) {
	return nil, nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestFetchOne_PersistsSnapshot(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{}
	p := New(src, store, 0, zap.NewNop())

	snap, err := p.FetchOne(context.Background(), 123)

	require.NoError(t, err)
	assert.Equal(t, int64(123), snap.ID)
	require.NotNil(t, snap.Price)
	assert.Equal(t, int64(500), *snap.Price)
	assert.Equal(t, 1, store.upsertCount())
}

func TestFetchOne_RejectsInvalidArticleBeforeAnyIO(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{}
	p := New(src, store, 0, zap.NewNop())

	for _, article := range []int64{0, -7} {
		_, err := p.FetchOne(context.Background(), article)
		assert.ErrorIs(t, err, ErrInvalidArticle)
	}
	assert.Zero(t, src.callCount())
	assert.Zero(t, store.upsertCount())
}

func TestFetchOne_FetchErrorIsNotPersisted(t *testing.T) {
	src := newFakeSource(500, 42)
	store := &fakeStore{}
	p := New(src, store, 0, zap.NewNop())

	_, err := p.FetchOne(context.Background(), 42)

	var fetchErr *source.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, store.upsertCount())
}

func TestFetchOne_RejectedWhileBatchInFlight(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{}
	p := New(src, store, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.FetchMany(ctx, []int64{1, 2, 3})
	require.NoError(t, err)

	_, err = p.FetchOne(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBatchInFlight)

	cancel()
	collect(t, events)

	// Once the batch has drained the single-article path works again.
	_, err = p.FetchOne(context.Background(), 99)
	assert.NoError(t, err)
}

func TestFetchMany_EventOrderWithPartialFailure(t *testing.T) {
	src := newFakeSource(500, 2)
	store := &fakeStore{}
	p := New(src, store, 0, zap.NewNop())

	events, err := p.FetchMany(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 7)

	assert.Equal(t, EventRowUpdated, got[0].Type)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, EventProgress, got[1].Type)
	assert.Equal(t, 33, got[1].Percent)
	assert.Equal(t, EventRowFailed, got[2].Type)
	assert.Equal(t, 1, got[2].Index)
	assert.Equal(t, EventProgress, got[3].Type)
	assert.Equal(t, 67, got[3].Percent)
	assert.Equal(t, EventRowUpdated, got[4].Type)
	assert.Equal(t, 2, got[4].Index)
	assert.Equal(t, EventProgress, got[5].Type)
	assert.Equal(t, 100, got[5].Percent)
	assert.Equal(t, EventCompleted, got[6].Type)
	assert.Empty(t, got[6].Error)

	// The failed article was not persisted, the other two were.
	assert.Equal(t, 2, store.upsertCount())
}

func TestFetchMany_ValidatesArticlesUpFront(t *testing.T) {
	src := newFakeSource(500)
	p := New(src, &fakeStore{}, 0, zap.NewNop())

	_, err := p.FetchMany(context.Background(), []int64{1, -2, 3})
	assert.ErrorIs(t, err, ErrInvalidArticle)
	assert.Zero(t, src.callCount())

	_, err = p.FetchMany(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestFetchMany_RejectsSecondBatchInFlight(t *testing.T) {
	src := newFakeSource(500)
	p := New(src, &fakeStore{}, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.FetchMany(ctx, []int64{1, 2, 3})
	require.NoError(t, err)

	_, err = p.FetchMany(context.Background(), []int64{4})
	assert.ErrorIs(t, err, ErrBatchInFlight)
	assert.True(t, p.Running())

	cancel()
	collect(t, events)
	assert.False(t, p.Running())
}

func TestFetchMany_CancellationStopsBetweenArticles(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{}
	p := New(src, store, 500*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.FetchMany(ctx, []int64{1, 2, 3})
	require.NoError(t, err)

	// Let the first article finish, then stop while the batch is pacing.
	first := <-events
	assert.Equal(t, EventRowUpdated, first.Type)
	<-events // progress
	cancel()

	got := collect(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventCompleted, last.Type)
	assert.NotEmpty(t, last.Error)

	// No further articles were started after the stop request.
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, 1, store.upsertCount())
}

func TestFetchMany_CancelledBeforeFirstArticleFetchesNothing(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{}
	p := New(src, store, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := p.FetchMany(ctx, []int64{1, 2, 3})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventCompleted, got[0].Type)
	assert.NotEmpty(t, got[0].Error)

	assert.Zero(t, src.callCount())
	assert.Zero(t, store.upsertCount())
}

func TestFetchMany_StorageErrorAbortsBatch(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{failOn: 2}
	p := New(src, store, 0, zap.NewNop())

	events, err := p.FetchMany(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, EventRowUpdated, got[0].Type)
	assert.Equal(t, EventProgress, got[1].Type)
	assert.Equal(t, EventCompleted, got[2].Type)
	assert.Contains(t, got[2].Error, "disk on fire")

	// The third article was never fetched.
	assert.Equal(t, 2, src.callCount())
}

func TestRefreshAll_UsesTrackedProducts(t *testing.T) {
	src := newFakeSource(500)
	store := &fakeStore{ids: []int64{5, 6}}
	p := New(src, store, 0, zap.NewNop())

	events, err := p.RefreshAll(context.Background())
	require.NoError(t, err)

	got := collect(t, events)
	assert.Len(t, got, 5)
	assert.Equal(t, []int64{5, 6}, src.calls)
}

func TestRefreshAll_EmptyStore(t *testing.T) {
	p := New(newFakeSource(500), &fakeStore{}, 0, zap.NewNop())

	_, err := p.RefreshAll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestEvent_ZeroPercentStaysOnTheWire(t *testing.T) {
	// A large batch rounds its first progress report down to 0; the field
	// must still reach the consumer.
	line, err := json.Marshal(Event{Type: EventProgress, Index: 0, Percent: 0})
	require.NoError(t, err)
	assert.Contains(t, string(line), `"percent":0`)
}

// Property: for any batch of N articles, exactly N progress events are
// emitted, strictly increasing, the last one equal to 100, and exactly one
// completed event follows every per-article event.
func TestProperty_ProgressEventsAreStrictlyIncreasing(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("progress is strictly increasing and ends at 100", prop.ForAll(
		func(n int) bool {
			articles := make([]int64, n)
			for i := range articles {
				articles[i] = int64(i + 1)
			}

			p := New(newFakeSource(100), &fakeStore{}, 0, zap.NewNop())
			events, err := p.FetchMany(context.Background(), articles)
			if err != nil {
				t.Logf("FAIL: FetchMany returned error: %v", err)
				return false
			}

			var progress []int
			var completed int
			var last Event
			for event := range events {
				if event.Type == EventProgress {
					progress = append(progress, event.Percent)
				}
				if event.Type == EventCompleted {
					completed++
				}
				last = event
			}

			if len(progress) != n {
				t.Logf("FAIL: expected %d progress events, got %d", n, len(progress))
				return false
			}
			for i := 1; i < len(progress); i++ {
				if progress[i] <= progress[i-1] {
					t.Logf("FAIL: progress not strictly increasing: %v", progress)
					return false
				}
			}
			if progress[len(progress)-1] != 100 {
				t.Logf("FAIL: final progress is %d", progress[len(progress)-1])
				return false
			}
			if completed != 1 || last.Type != EventCompleted {
				t.Logf("FAIL: completed emitted %d times, last event %s", completed, last.Type)
				return false
			}
			return true
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
