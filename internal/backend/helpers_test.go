package backend_test

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/internal/store"
)

// fakeSubmitter records submissions and returns err, if set.
type fakeSubmitter struct {
	mu   sync.Mutex
	subs []ingest.Submission
	err  error
}

func (f *fakeSubmitter) SubmitReading(_ context.Context, sub ingest.Submission) (*store.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	if f.err != nil {
		return nil, f.err
	}
	return &store.Reading{
		ID:         uint(len(f.subs)),
		WaterLevel: *sub.WaterLevel,
		WaterFlow:  *sub.WaterFlow,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (f *fakeSubmitter) Submissions() []ingest.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.Submission(nil), f.subs...)
}

// settlement is one Ack, Nack or Reject call.
type settlement struct {
	kind    string
	requeue bool
}

// fakeAcknowledger implements amqp.Acknowledger.
type fakeAcknowledger struct {
	mu   sync.Mutex
	seen []settlement
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.record(settlement{kind: "ack"})
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.record(settlement{kind: "nack", requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.record(settlement{kind: "reject", requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) record(s settlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, s)
}

func (f *fakeAcknowledger) Settlements() []settlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settlement(nil), f.seen...)
}

var _ amqp.Acknowledger = (*fakeAcknowledger)(nil)

var errDatabaseDown = errors.New("database down")
