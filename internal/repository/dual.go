package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"anpr-recorder/internal/domain/anpr"
)

type recordKind int

const (
	kindDetection recordKind = iota
	kindSegment
)

// pendingRecord journals a record with at least one failed store side.
// The reconciler re-attempts the failed sides until both flags are set.
type pendingRecord struct {
	kind         recordKind
	detection    *anpr.Detection
	segment      *anpr.VideoSegment
	relationalOK bool
	documentOK   bool
}

// DualStore writes every record to a relational and a document store
// independently. A failure on one side never blocks the other; failed
// sides are journaled for reconciliation. Reads prefer the relational
// store and fall back to the document store.
type DualStore struct {
	relational Store
	document   Store
	log        zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRecord
}

func NewDualStore(relational, document Store, log zerolog.Logger) *DualStore {
	return &DualStore{
		relational: relational,
		document:   document,
		log:        log,
		pending:    make(map[string]*pendingRecord),
	}
}

// writeBoth runs one write against each store concurrently and reports the
// per-store outcome.
func (d *DualStore) writeBoth(ctx context.Context, write func(Store) error) (relErr, docErr error) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relErr = write(d.relational)
	}()
	go func() {
		defer wg.Done()
		docErr = write(d.document)
	}()
	wg.Wait()
	return relErr, docErr
}

func (d *DualStore) SaveDetection(ctx context.Context, det *anpr.Detection) error {
	relErr, docErr := d.writeBoth(ctx, func(s Store) error {
		return s.SaveDetection(ctx, det)
	})

	cp := *det
	d.track(det.ID, &pendingRecord{
		kind:         kindDetection,
		detection:    &cp,
		relationalOK: relErr == nil,
		documentOK:   docErr == nil,
	})

	return d.outcome("detection", det.ID, relErr, docErr)
}

func (d *DualStore) SaveSegment(ctx context.Context, seg *anpr.VideoSegment) error {
	relErr, docErr := d.writeBoth(ctx, func(s Store) error {
		return s.SaveSegment(ctx, seg)
	})

	cp := *seg
	cp.DetectionIDs = append([]string(nil), seg.DetectionIDs...)
	d.track(seg.ID, &pendingRecord{
		kind:         kindSegment,
		segment:      &cp,
		relationalOK: relErr == nil,
		documentOK:   docErr == nil,
	})

	return d.outcome("segment", seg.ID, relErr, docErr)
}

// track journals the record when a side failed, or clears a previous
// journal entry once both sides are current.
func (d *DualStore) track(id string, rec *pendingRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.relationalOK && rec.documentOK {
		delete(d.pending, id)
		return
	}
	d.pending[id] = rec
}

// outcome logs partial failures and returns an error only when both sides
// failed; a single healthy side is enough to keep the pipeline moving.
func (d *DualStore) outcome(kind, id string, relErr, docErr error) error {
	if relErr != nil {
		d.log.Warn().Err(relErr).Str("id", id).Str("store", d.relational.Name()).Msgf("%s write failed, queued for reconciliation", kind)
	}
	if docErr != nil {
		d.log.Warn().Err(docErr).Str("id", id).Str("store", d.document.Name()).Msgf("%s write failed, queued for reconciliation", kind)
	}
	if relErr != nil && docErr != nil {
		return fmt.Errorf("both stores failed for %s %s: %w", kind, id, errors.Join(relErr, docErr))
	}
	return nil
}

// PendingCount reports how many records still have a failed side.
func (d *DualStore) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *DualStore) GetDetection(ctx context.Context, id string) (*anpr.Detection, error) {
	det, err := d.relational.GetDetection(ctx, id)
	if err == nil {
		return det, nil
	}
	return d.document.GetDetection(ctx, id)
}

func (d *DualStore) GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error) {
	seg, err := d.relational.GetSegment(ctx, id)
	if err == nil {
		return seg, nil
	}
	return d.document.GetSegment(ctx, id)
}

// QueryDetections prefers the relational store; if it is unavailable the
// document store is scanned instead. Records known to be missing from the
// relational side (journaled partial writes) are merged in so a reader
// never loses a detection to a one-sided failure.
func (d *DualStore) QueryDetections(ctx context.Context, f DetectionFilter) ([]anpr.Detection, error) {
	out, err := d.relational.QueryDetections(ctx, f)
	if err != nil {
		d.log.Warn().Err(err).Msg("relational query failed, falling back to document store")
		return d.document.QueryDetections(ctx, f)
	}
	return d.mergePendingDetections(out, f), nil
}

func (d *DualStore) QuerySegments(ctx context.Context, f SegmentFilter) ([]anpr.VideoSegment, error) {
	out, err := d.relational.QuerySegments(ctx, f)
	if err != nil {
		d.log.Warn().Err(err).Msg("relational query failed, falling back to document store")
		return d.document.QuerySegments(ctx, f)
	}
	return out, nil
}

func (d *DualStore) mergePendingDetections(out []anpr.Detection, f DetectionFilter) []anpr.Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]struct{}, len(out))
	for _, det := range out {
		seen[det.ID] = struct{}{}
	}

	merged := false
	for _, rec := range d.pending {
		if rec.kind != kindDetection || rec.relationalOK {
			continue
		}
		det := rec.detection
		if _, dup := seen[det.ID]; dup {
			continue
		}
		if matchesDetectionFilter(*det, f) {
			out = append(out, *det)
			merged = true
		}
	}
	if merged {
		sort.Slice(out, func(i, j int) bool {
			return out[i].Timestamp.After(out[j].Timestamp)
		})
	}
	return out
}

func matchesDetectionFilter(det anpr.Detection, f DetectionFilter) bool {
	if f.CameraID != "" && det.CameraID != f.CameraID {
		return false
	}
	if f.Plate != "" && det.NormalizedPlate != f.Plate {
		return false
	}
	if f.MinConfidence > 0 && det.Confidence < f.MinConfidence {
		return false
	}
	if !f.From.IsZero() && det.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && det.Timestamp.After(f.To) {
		return false
	}
	return true
}

func (d *DualStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	relDeleted, relErr := d.relational.DeleteOlderThan(ctx, cutoff)
	docDeleted, docErr := d.document.DeleteOlderThan(ctx, cutoff)
	if relErr != nil {
		return docDeleted, relErr
	}
	if docErr != nil {
		return relDeleted, docErr
	}
	if docDeleted > relDeleted {
		return docDeleted, nil
	}
	return relDeleted, nil
}

func (d *DualStore) Name() string { return "dual" }

// Reconcile re-attempts the failed side of every journaled record. Saves
// are id-keyed upserts, so retries are safe. Returns how many records
// were fully healed.
func (d *DualStore) Reconcile(ctx context.Context) int {
	d.mu.Lock()
	snapshot := make(map[string]*pendingRecord, len(d.pending))
	for id, rec := range d.pending {
		snapshot[id] = rec
	}
	d.mu.Unlock()

	healed := 0
	for id, rec := range snapshot {
		relOK, docOK := rec.relationalOK, rec.documentOK
		if !relOK {
			relOK = d.retry(ctx, d.relational, rec) == nil
		}
		if !docOK {
			docOK = d.retry(ctx, d.document, rec) == nil
		}

		d.mu.Lock()
		// Another save may have replaced the entry meanwhile; only touch
		// it if it is still ours.
		if current, ok := d.pending[id]; ok && current == rec {
			current.relationalOK = relOK
			current.documentOK = docOK
			if relOK && docOK {
				delete(d.pending, id)
				healed++
			}
		}
		d.mu.Unlock()
	}
	return healed
}

func (d *DualStore) retry(ctx context.Context, s Store, rec *pendingRecord) error {
	switch rec.kind {
	case kindDetection:
		return s.SaveDetection(ctx, rec.detection)
	case kindSegment:
		return s.SaveSegment(ctx, rec.segment)
	}
	return nil
}
