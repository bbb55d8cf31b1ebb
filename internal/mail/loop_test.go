package mail

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mail2rag/internal/scheduler"
	"github.com/Aman-CERP/mail2rag/internal/state"
)

type fakeSource struct {
	mu           sync.Mutex
	ensureErr    error
	fetchErr     error
	messages     []RawMessage
	ensureCalls  int
	fetchedSince []int64
}

func (f *fakeSource) EnsureSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeSource) FetchNewSince(ctx context.Context, lastUID int64) ([]RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchedSince = append(f.fetchedSince, lastUID)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []RawMessage
	for _, m := range f.messages {
		if m.UID > lastUID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) Close() error { return nil }

var _ Source = (*fakeSource)(nil)

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := state.NewJSONFileStore(path)
	require.NoError(t, err)
	return s
}

func TestTickEnqueuesMessagesInAscendingUIDOrderAndAdvancesCursor(t *testing.T) {
	src := &fakeSource{messages: []RawMessage{
		{UID: 3, Raw: []byte("three")},
		{UID: 1, Raw: []byte("one")},
		{UID: 2, Raw: []byte("two")},
	}}

	var mu sync.Mutex
	var processed []scheduler.Job
	done := make(chan struct{}, 10)

	fn := func(ctx context.Context, job scheduler.Job) error {
		mu.Lock()
		processed = append(processed, job)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	sched := scheduler.New(context.Background(), 1, 10, fn, nil)
	defer sched.Shutdown(time.Second)

	store := newTestStore(t)
	loop := NewLoop(src, nil, sched, store, time.Hour, nil)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	loop.tick(context.Background(), cursor)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for job processing")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, processed, 3)
	assert.Equal(t, int64(1), processed[0].UID)
	assert.Equal(t, int64(2), processed[1].UID)
	assert.Equal(t, int64(3), processed[2].UID)

	reloaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), reloaded.LastUID)
}

func TestTickAssignsStableArchiveIDsAcrossTicks(t *testing.T) {
	src := &fakeSource{messages: []RawMessage{{UID: 5, Raw: []byte("hello")}}}

	var firstID string
	fn := func(ctx context.Context, job scheduler.Job) error {
		firstID = job.ArchiveID
		return nil
	}
	sched := scheduler.New(context.Background(), 1, 10, fn, nil)
	defer sched.Shutdown(time.Second)

	store := newTestStore(t)
	loop := NewLoop(src, nil, sched, store, time.Hour, nil)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	loop.tick(context.Background(), cursor)
	time.Sleep(50 * time.Millisecond)

	require.NotEmpty(t, firstID)

	again, err := store.GetOrCreateArchiveID(context.Background(), cursor, 5)
	require.NoError(t, err)
	assert.Equal(t, firstID, again)
}

func TestTickDoesNotAdvanceCursorOnEnsureSessionError(t *testing.T) {
	src := &fakeSource{ensureErr: errors.New("connection refused")}

	fn := func(ctx context.Context, job scheduler.Job) error { return nil }
	sched := scheduler.New(context.Background(), 1, 10, fn, nil)
	defer sched.Shutdown(time.Second)

	store := newTestStore(t)
	loop := NewLoop(src, nil, sched, store, time.Hour, nil)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	loop.tick(ctx, cursor)
	assert.Equal(t, int64(0), cursor.LastUID)
	assert.Equal(t, 1, src.ensureCalls)
}

func TestTickSkipsMessagesAlreadyAtOrBelowLastUID(t *testing.T) {
	src := &fakeSource{messages: []RawMessage{
		{UID: 1, Raw: []byte("old")},
		{UID: 2, Raw: []byte("new")},
	}}

	var processedUIDs []int64
	fn := func(ctx context.Context, job scheduler.Job) error {
		processedUIDs = append(processedUIDs, job.UID)
		return nil
	}
	sched := scheduler.New(context.Background(), 1, 10, fn, nil)
	defer sched.Shutdown(time.Second)

	store := newTestStore(t)
	loop := NewLoop(src, nil, sched, store, time.Hour, nil)

	cursor, err := store.Load(context.Background())
	require.NoError(t, err)
	cursor.LastUID = 1
	require.NoError(t, store.Save(context.Background(), cursor))

	loop.tick(context.Background(), cursor)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []int64{2}, processedUIDs)
}
