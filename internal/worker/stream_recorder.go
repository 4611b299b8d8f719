package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	warden "github.com/eugener/warden/internal"
)

const (
	auditChanSize   = 1000
	auditBatchSize  = 100
	auditFlushEvery = 5 * time.Second
	auditDrainTime  = 30 * time.Second
)

// StreamStore is the persistence interface consumed by StreamRecorder.
type StreamStore interface {
	InsertStreamRecords(ctx context.Context, records []warden.StreamRecord) error
}

// QueueGauge reports the recorder's backlog size. Satisfied by a prometheus
// gauge; nil-safe via the SetQueueGauge wiring.
type QueueGauge interface {
	Set(float64)
}

// StreamRecorder buffers stream audit records and batch-flushes them to the
// store. Records are dropped if the channel is full (back-pressure on slow DB).
type StreamRecorder struct {
	ch    chan warden.StreamRecord
	store StreamStore
	gauge QueueGauge
}

// NewStreamRecorder creates a StreamRecorder backed by store.
func NewStreamRecorder(store StreamStore) *StreamRecorder {
	return &StreamRecorder{
		ch:    make(chan warden.StreamRecord, auditChanSize),
		store: store,
	}
}

// SetQueueGauge wires a backlog gauge. Must be called before Run.
func (s *StreamRecorder) SetQueueGauge(g QueueGauge) { s.gauge = g }

// Record enqueues a stream record. It never blocks; drops on full channel.
func (s *StreamRecorder) Record(r warden.StreamRecord) {
	select {
	case s.ch <- r:
	default:
		slog.Warn("stream record dropped, channel full")
	}
	if s.gauge != nil {
		s.gauge.Set(float64(len(s.ch)))
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (s *StreamRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(auditFlushEvery)
	defer ticker.Stop()

	buf := make([]warden.StreamRecord, 0, auditBatchSize)

	for {
		select {
		case r := <-s.ch:
			buf = append(buf, r)
			if len(buf) >= auditBatchSize {
				s.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				s.flush(ctx, buf)
				buf = buf[:0]
			}
			if s.gauge != nil {
				s.gauge.Set(float64(len(s.ch)))
			}

		case <-ctx.Done():
			// Drain remaining records with a timeout.
			s.drain(buf)
			return nil
		}
	}
}

func (s *StreamRecorder) drain(buf []warden.StreamRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), auditDrainTime)
	defer cancel()

	for {
		select {
		case r := <-s.ch:
			buf = append(buf, r)
			if len(buf) >= auditBatchSize {
				s.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				s.flush(ctx, buf)
			}
			return
		}
	}
}

func (s *StreamRecorder) flush(ctx context.Context, buf []warden.StreamRecord) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]warden.StreamRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := s.store.InsertStreamRecords(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "stream audit flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
