package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/app"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type memStore struct {
	mu       sync.Mutex
	messages []Message
	receipts map[string]struct{}
	failAll  bool
	block    chan struct{}
}

func newMemStore() *memStore {
	return &memStore{receipts: make(map[string]struct{})}
}

func (s *memStore) InsertMessage(ctx context.Context, m Message) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *memStore) QueryMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) InsertReadReceipt(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[messageID+"/"+userID] = struct{}{}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.receipts)
}

func TestWriterDrainsQueueOnShutdown(t *testing.T) {
	st := newMemStore()
	w := NewWriter(st, 8)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		w.EnqueueMessage(Message{ID: "m", RoomID: "r1", Text: "hi", CreatedAt: time.Now()})
	}
	w.EnqueueReceipt("m", "u1")
	w.EnqueueReceipt("m", "u1")

	cancel()
	w.Wait()

	msgs, receipts := st.counts()
	assert.Equal(t, 5, msgs)
	assert.Equal(t, 1, receipts, "duplicate receipt collapses")
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	st := newMemStore()
	st.block = make(chan struct{})
	w := NewWriter(st, 2)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	// One job stuck in exec, two queued; the rest must drop without
	// blocking the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.EnqueueMessage(Message{ID: "m", RoomID: "r1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	close(st.block)
	cancel()
	w.Wait()

	msgs, _ := st.counts()
	assert.LessOrEqual(t, msgs, 4)
	assert.GreaterOrEqual(t, msgs, 1)
}

func TestStoreFailureWrappedAsPersistenceError(t *testing.T) {
	st := newMemStore()
	st.failAll = true
	w := NewWriter(st, 4)

	err := w.exec(job{kind: jobMessage, message: Message{ID: "m"}})
	var pe *app.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "insert message", pe.Op)
	assert.EqualError(t, errors.Unwrap(err), "store down")
}

func TestWriterLogsStoreFailure(t *testing.T) {
	st := newMemStore()
	st.failAll = true
	w := NewWriter(st, 4)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.EnqueueMessage(Message{ID: "m", RoomID: "r1"})
	cancel()
	w.Wait()

	msgs, _ := st.counts()
	require.Zero(t, msgs, "failed writes never land")
}
