package reportcache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/chusseyoo/proj-sub001/internal/attendance"
	"github.com/chusseyoo/proj-sub001/internal/metrics"
	"github.com/chusseyoo/proj-sub001/internal/queue"
)

// ReportGenerator builds a live report for a session.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, sessionRef string, now time.Time) (attendance.Report, error)
}

// Putter stores a generated report.
type Putter interface {
	Put(ctx context.Context, rep attendance.Report) error
}

// Refresher regenerates the cached report of every session that receives a
// new attendance record.
type Refresher struct {
	reports ReportGenerator
	cache   Putter
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRefresher creates a refresher. m may be nil.
func NewRefresher(reports ReportGenerator, cache Putter, m *metrics.Metrics) *Refresher {
	return &Refresher{reports: reports, cache: cache, metrics: m, now: time.Now}
}

// Run consumes msgs until the channel closes or ctx is done. Messages already
// buffered are drained together so a burst for one session costs one
// regeneration.
func (r *Refresher) Run(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			pending := map[string]bool{}
			r.collect(msg, pending)
		drain:
			for {
				select {
				case more, ok := <-msgs:
					if !ok {
						break drain
					}
					r.collect(more, pending)
				default:
					break drain
				}
			}
			for ref := range pending {
				if err := r.Refresh(ctx, ref); err != nil {
					log.Printf("refresh report %s failed: %v", ref, err)
				}
			}
		}
	}
}

func (r *Refresher) collect(msg queue.Message, pending map[string]bool) {
	if msg.Type != attendance.EventRecorded {
		r.metrics.ObserveWorker("skipped")
		return
	}
	var rec attendance.Record
	if err := json.Unmarshal(msg.Body, &rec); err != nil || rec.SessionRef == "" {
		log.Printf("drop malformed %s event: %v", msg.Type, err)
		r.metrics.ObserveWorker("skipped")
		return
	}
	pending[rec.SessionRef] = true
}

// Refresh regenerates and stores one session's report.
func (r *Refresher) Refresh(ctx context.Context, sessionRef string) error {
	rep, err := r.reports.GenerateReport(ctx, sessionRef, r.now())
	if err != nil {
		r.metrics.ObserveWorker("failed")
		return err
	}
	if err := r.cache.Put(ctx, rep); err != nil {
		r.metrics.ObserveWorker("failed")
		return err
	}
	r.metrics.ObserveWorker("refreshed")
	return nil
}
