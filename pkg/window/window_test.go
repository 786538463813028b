package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/mocks"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mahaj/dupahar-sync/pkg/store/badgerstore"
	"github.com/mahaj/dupahar-sync/pkg/syncerr"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const waitFor = 2 * time.Second

var testLogger = logs.GetLoggerFromLevel(slog.LevelDebug)

// recorder collects listener calls and renders every message 20px high.
type recorder struct {
	mu        sync.Mutex
	states    []State
	stateIDs  []string
	loaded    int
	appended  []model.Message
	prepended [][]model.Message
	rendered  int
}

func (r *recorder) Loaded(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded++
	r.rendered = len(snap.Messages)
}

func (r *recorder) Appended(msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, msg)
	r.rendered++
}

func (r *recorder) Prepended(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepended = append(r.prepended, msgs)
	r.rendered += len(msgs)
}

func (r *recorder) StateChanged(conversationID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.stateIDs = append(r.stateIDs, conversationID)
}

func (r *recorder) ContentHeight() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.rendered * 20)
}

type viewport struct {
	content func() float64
	top     float64
}

func (v *viewport) ContentHeight() float64 { return v.content() }
func (v *viewport) ScrollTop() float64 { return v.top }
func (v *viewport) SetScrollTop(top float64) { v.top = top }

func newBadger(t *testing.T) *badgerstore.Store {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := badgerstore.Open("", testLogger, node)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendAt(t *testing.T, log store.AppendLog, conversationID string, timestamps ...int64) []string {
	t.Helper()
	var keys []string
	for _, ts := range timestamps {
		key, err := log.Append(context.Background(), conversationID, model.Message{SenderID: "A1", Text: fmt.Sprint(ts), CreatedAt: ts})
		require.NoError(t, err)
		keys = append(keys, key)
	}
	return keys
}

func series(from, step int64, n int) []int64 {
	return lo.Times(n, func(i int) int64 { return from + int64(i)*step })
}

func messagesAt(conversationID string, timestamps ...int64) []model.Message {
	return lo.Map(timestamps, func(ts int64, _ int) model.Message {
		return model.Message{ID: fmt.Sprintf("m%d", ts), ConversationID: conversationID, SenderID: "A1", Text: "x", CreatedAt: ts}
	})
}

// feed is a controllable live stream. Sends block until the window took the item.
func feed() (store.Stream[model.Message], chan<- model.Message) {
	ch := make(chan model.Message)
	stream := store.Pump(context.Background(), func(ctx context.Context, emit func(model.Message) bool) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-ch:
				if !emit(msg) {
					return nil
				}
			}
		}
	})
	return stream, ch
}

func ids(msgs []model.Message) []string {
	return lo.Map(msgs, func(m model.Message, _ int) string { return m.ID })
}

func timestampsOf(msgs []model.Message) []int64 {
	return lo.Map(msgs, func(m model.Message, _ int) int64 { return m.CreatedAt })
}

func requireUnique(t *testing.T, msgs []model.Message) {
	t.Helper()
	require.Len(t, lo.Uniq(ids(msgs)), len(msgs), "duplicate ids in buffer")
}

func TestOpen_LoadsLatestPageAndFollowsLiveTail(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	appendAt(t, s, "A1_A2", series(1, 1, 60)...)
	rec := &recorder{}
	w := New(realtime.NewMessages(s), "A1", testLogger, rec)
	defer w.Close()

	req.NoError(w.Open(context.Background(), "A1_A2"))

	snap := w.Snapshot()
	req.Equal(Live, snap.State)
	req.True(snap.HasMore)
	req.Equal(series(11, 1, 50), timestampsOf(snap.Messages))
	req.Equal(1, rec.loaded)

	appendAt(t, s, "A1_A2", 61, 62)
	req.Eventually(func() bool { return len(w.Snapshot().Messages) == 52 }, waitFor, 5*time.Millisecond)
	req.Equal(series(11, 1, 52), timestampsOf(w.Snapshot().Messages))
	requireUnique(t, w.Snapshot().Messages)
}

func TestOpen_EmptyConversationHasNothingMore(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	w := New(realtime.NewMessages(s), "A1", testLogger, nil)
	defer w.Close()

	req.NoError(w.Open(context.Background(), "A1_A2"))

	snap := w.Snapshot()
	req.Equal(Live, snap.State)
	req.False(snap.HasMore)
	req.Empty(snap.Messages)

	older, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.Zero(older.Added)
}

func TestOpen_InvalidOrForeignIdYieldsEmptyWindowWithoutReads(t *testing.T) {
	for _, id := range []string{"", "A1", "A2_A1", "A1_A1", "A2_A3", "a_b_c"} {
		t.Run(fmt.Sprintf("id=%q", id), func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			log := mocks.NewMockAppendLog(ctrl)
			w := New(realtime.NewMessages(log), "A1", testLogger, nil)
			defer w.Close()

			req.NoError(w.Open(context.Background(), id))

			snap := w.Snapshot()
			req.Equal(Live, snap.State)
			req.False(snap.HasMore)
			req.Empty(snap.Messages)
			req.Equal(id, snap.ConversationID)
		})
	}
}

func TestOpen_ReopenNeverLeaksPreviousConversation(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	appendAt(t, s, "A1_A2", 100, 110)
	appendAt(t, s, "A1_A3", 105)
	w := New(realtime.NewMessages(s), "A1", testLogger, nil)
	defer w.Close()

	req.NoError(w.Open(context.Background(), "A1_A2"))
	req.NoError(w.Open(context.Background(), "A1_A3"))

	appendAt(t, s, "A1_A2", 120, 130)
	appendAt(t, s, "A1_A3", 140)

	req.Eventually(func() bool { return len(w.Snapshot().Messages) == 2 }, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	snap := w.Snapshot()
	req.Equal("A1_A3", snap.ConversationID)
	req.Equal([]int64{105, 140}, timestampsOf(snap.Messages))
	for _, msg := range snap.Messages {
		req.Equal("A1_A3", msg.ConversationID)
	}
}

func TestOpen_DetachesPreviousStreamBeforeAttaching(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	first, firstFeed := feed()
	second, _ := feed()

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(messagesAt("A1_A2", 100), nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(100)).Return(first, nil)
	log.EXPECT().ReadRange(gomock.Any(), "A1_A3", gomock.Any()).DoAndReturn(
		func(context.Context, string, store.Range) ([]model.Message, error) {
			select {
			case _, open := <-first.Events():
				req.False(open, "previous stream still attached")
			case <-time.After(waitFor):
				req.Fail("previous stream never detached")
			}
			return nil, nil
		})
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A3", int64(0)).Return(second, nil)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))
	req.NoError(w.Open(context.Background(), "A1_A3"))

	select {
	case firstFeed <- messagesAt("A1_A2", 200)[0]:
		req.Fail("detached stream accepted an item")
	case <-time.After(20 * time.Millisecond):
	}
	req.Empty(w.Snapshot().Messages)
}

func TestOpen_ReadFailureStaysLoadingAndCanBeRetried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, _ := feed()

	gomock.InOrder(
		log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(nil, errors.New("connection reset")),
		log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(messagesAt("A1_A2", 100, 110), nil),
	)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(110)).Return(stream, nil)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()

	err := w.Open(context.Background(), "A1_A2")
	req.ErrorIs(err, syncerr.ErrTransientRead)
	req.True(syncerr.Retryable(err))
	snap := w.Snapshot()
	req.Equal(Loading, snap.State)
	req.Empty(snap.Messages)

	req.NoError(w.Open(context.Background(), "A1_A2"))
	req.Equal(Live, w.Snapshot().State)
	req.Len(w.Snapshot().Messages, 2)
}

func TestLiveAppend_ReplayedIdLeavesBufferUnchanged(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, live := feed()
	initial := messagesAt("A1_A2", 100, 110, 120)

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(initial, nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(120)).Return(stream, nil)

	rec := &recorder{}
	w := New(realtime.NewMessages(log), "A1", testLogger, rec)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))

	live <- initial[1]
	live <- messagesAt("A1_A2", 130)[0]
	live <- messagesAt("A1_A2", 130)[0]
	live <- messagesAt("A1_A2", 140)[0]

	req.Eventually(func() bool { return len(w.Snapshot().Messages) == 5 }, waitFor, 5*time.Millisecond)
	snap := w.Snapshot()
	req.Equal([]int64{100, 110, 120, 130, 140}, timestampsOf(snap.Messages))
	requireUnique(t, snap.Messages)
	rec.mu.Lock()
	req.Len(rec.appended, 2)
	rec.mu.Unlock()
}

func TestLiveAppend_OutOfOrderTimestampIsAppendedAtTail(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, live := feed()

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(messagesAt("A1_A2", 100, 110), nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(110)).Return(stream, nil)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))

	live <- messagesAt("A1_A2", 105)[0]
	req.Eventually(func() bool { return len(w.Snapshot().Messages) == 3 }, waitFor, 5*time.Millisecond)
	req.Equal([]int64{100, 110, 105}, timestampsOf(w.Snapshot().Messages))
}

func TestLoadOlder_EmptyPageEndsPaginationAndSecondCallIssuesNoRead(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, _ := feed()
	window := messagesAt("A1_A2", series(200, 10, 50)...)

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", store.Range{LimitLast: realtime.PageSize}).Return(window, nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(690)).Return(stream, nil)
	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, r store.Range) ([]model.Message, error) {
			req.NotNil(r.LTE)
			req.Equal(int64(199), *r.LTE)
			req.Nil(r.GTE)
			req.Equal(realtime.PageSize, r.LimitLast)
			return nil, nil
		}).Times(1)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))
	req.True(w.Snapshot().HasMore)

	older, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.False(older.HasMore)
	req.Zero(older.Added)
	req.False(w.Snapshot().HasMore)
	req.Len(w.Snapshot().Messages, 50)

	older, err = w.LoadOlder(context.Background())
	req.NoError(err)
	req.False(older.HasMore)
	req.Equal(Live, w.Snapshot().State)
}

func TestLoadOlder_SkipsIdsAlreadyPresent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, _ := feed()
	initial := messagesAt("A1_A2", 100, 110)

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", store.Range{LimitLast: realtime.PageSize}).Return(initial, nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(110)).Return(stream, nil)
	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).
		Return(append(messagesAt("A1_A2", 80, 90), initial[0]), nil)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))

	older, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.Equal(2, older.Added)
	req.True(older.HasMore)
	req.Equal("m100", older.AnchorID)
	snap := w.Snapshot()
	req.Equal([]int64{80, 90, 100, 110}, timestampsOf(snap.Messages))
	requireUnique(t, snap.Messages)
}

func TestLoadOlder_FailureKeepsHasMoreAndCanBeRetried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, _ := feed()

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", store.Range{LimitLast: realtime.PageSize}).Return(messagesAt("A1_A2", 100), nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(100)).Return(stream, nil)
	gomock.InOrder(
		log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(nil, errors.New("timeout")),
		log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).Return(messagesAt("A1_A2", 90), nil),
	)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))

	_, err := w.LoadOlder(context.Background())
	req.ErrorIs(err, syncerr.ErrTransientRead)
	snap := w.Snapshot()
	req.True(snap.HasMore)
	req.Equal(Live, snap.State)
	req.Len(snap.Messages, 1)

	older, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.Equal(1, older.Added)
}

func TestLoadOlder_IsNoOpWhileAnotherIsInFlight(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := mocks.NewMockAppendLog(ctrl)
	stream, _ := feed()
	entered := make(chan struct{})
	unblock := make(chan struct{})

	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", store.Range{LimitLast: realtime.PageSize}).Return(messagesAt("A1_A2", 100), nil)
	log.EXPECT().SubscribeAppended(gomock.Any(), "A1_A2", int64(100)).Return(stream, nil)
	log.EXPECT().ReadRange(gomock.Any(), "A1_A2", gomock.Any()).DoAndReturn(
		func(context.Context, string, store.Range) ([]model.Message, error) {
			close(entered)
			<-unblock
			return messagesAt("A1_A2", 90), nil
		}).Times(1)

	w := New(realtime.NewMessages(log), "A1", testLogger, nil)
	defer w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))

	done := make(chan Older)
	go func() {
		older, _ := w.LoadOlder(context.Background())
		done <- older
	}()
	<-entered
	req.Equal(LoadingOlder, w.Snapshot().State)

	second, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.Zero(second.Added)

	close(unblock)
	req.Equal(1, (<-done).Added)
	req.Len(w.Snapshot().Messages, 2)
}

func TestLoadOlder_AnchorsScrollOnPrependedHeight(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	appendAt(t, s, "A1_A2", series(1, 1, 70)...)
	rec := &recorder{}
	vp := &viewport{content: rec.ContentHeight, top: 15}
	w := New(realtime.NewMessages(s), "A1", testLogger, rec)
	w.SetViewport(vp)
	defer w.Close()

	req.NoError(w.Open(context.Background(), "A1_A2"))
	req.Equal(float64(50*20), vp.ContentHeight())

	older, err := w.LoadOlder(context.Background())
	req.NoError(err)
	req.Equal(20, older.Added)
	req.Equal(float64(20*20), older.Delta)
	req.Equal(float64(15+20*20), vp.top)
	req.Equal(series(1, 1, 70), timestampsOf(w.Snapshot().Messages))
}

func TestWindow_BufferGrowsWithoutDuplicatesAcrossMixedEvents(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	appendAt(t, s, "A1_A2", series(1000, 10, 130)...)
	w := New(realtime.NewMessages(s), "A1", testLogger, nil)
	defer w.Close()
	ctx := context.Background()

	req.NoError(w.Open(ctx, "A1_A2"))
	prevLen := len(w.Snapshot().Messages)
	prevHasMore := w.Snapshot().HasMore
	check := func() {
		snap := w.Snapshot()
		req.GreaterOrEqual(len(snap.Messages), prevLen)
		requireUnique(t, snap.Messages)
		if !prevHasMore {
			req.False(snap.HasMore)
		}
		prevLen, prevHasMore = len(snap.Messages), snap.HasMore
	}

	for i := 0; i < 6; i++ {
		appendAt(t, s, "A1_A2", int64(5000+i))
		_, err := w.LoadOlder(ctx)
		req.NoError(err)
		check()
	}
	req.Eventually(func() bool { return len(w.Snapshot().Messages) == 136 }, waitFor, 5*time.Millisecond)
	check()
	req.False(w.Snapshot().HasMore)
	req.Equal(int64(1000), w.Snapshot().Messages[0].CreatedAt)
}

func TestClose_IsIdempotentAndStopsLiveTail(t *testing.T) {
	req := require.New(t)
	s := newBadger(t)
	appendAt(t, s, "A1_A2", 100)
	rec := &recorder{}
	w := New(realtime.NewMessages(s), "A1", testLogger, rec)

	w.Close()
	req.NoError(w.Open(context.Background(), "A1_A2"))
	w.Close()
	w.Close()

	appendAt(t, s, "A1_A2", 200)
	time.Sleep(50 * time.Millisecond)

	snap := w.Snapshot()
	req.Equal(Closed, snap.State)
	req.Empty(snap.Messages)
	req.Empty(snap.ConversationID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	req.Equal([]State{Loading, Live, Closed}, rec.states)
	req.Equal([]string{"A1_A2", "A1_A2", "A1_A2"}, rec.stateIDs)
	req.Empty(rec.appended)
}
