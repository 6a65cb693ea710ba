package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
)

type jobKind int

const (
	jobMessage jobKind = iota
	jobReceipt
)

type job struct {
	kind      jobKind
	message   Message
	messageID string
	userID    string
}

// Writer is the write-through persistence adapter: a bounded async queue in
// front of the ChatStore. Enqueue never blocks the relay path; when the queue
// is full or the store is down the write is dropped and logged.
type Writer struct {
	store   ChatStore
	jobs    chan job
	done    chan struct{}
	timeout time.Duration
}

func NewWriter(store ChatStore, queue int) *Writer {
	if queue <= 0 {
		queue = 256
	}
	return &Writer{
		store:   store,
		jobs:    make(chan job, queue),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
}

// Start runs the drain loop until ctx is canceled, then flushes what is
// already queued.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case j := <-w.jobs:
				if err := w.exec(j); err != nil {
					log.Error().Str("module", "store.writer").Err(err).Msg("durable write failed")
				}
			}
		}
	}()
}

// Wait blocks until the drain loop has exited.
func (w *Writer) Wait() { <-w.done }

func (w *Writer) EnqueueMessage(m Message) {
	w.enqueue(job{kind: jobMessage, message: m})
}

func (w *Writer) EnqueueReceipt(messageID, userID string) {
	w.enqueue(job{kind: jobReceipt, messageID: messageID, userID: userID})
}

func (w *Writer) enqueue(j job) {
	select {
	case w.jobs <- j:
	default:
		log.Warn().Str("module", "store.writer").Int("queue", cap(w.jobs)).Msg("persistence queue full, write dropped")
	}
}

func (w *Writer) exec(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var (
		op  string
		err error
	)
	switch j.kind {
	case jobMessage:
		op = "insert message"
		err = w.store.InsertMessage(ctx, j.message)
	case jobReceipt:
		op = "insert receipt"
		err = w.store.InsertReadReceipt(ctx, j.messageID, j.userID)
	}
	if err != nil {
		return &app.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (w *Writer) drain() {
	for {
		select {
		case j := <-w.jobs:
			if err := w.exec(j); err != nil {
				log.Error().Str("module", "store.writer").Err(err).Msg("durable write failed")
			}
		default:
			return
		}
	}
}
