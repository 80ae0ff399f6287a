package models

import (
	"fmt"
	"strings"
	"time"

	"agri-trace-api-server/internal/geo"
)

// Action is the kind of history append.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
)

const (
	// StatusHarvested is the status every batch starts with.
	StatusHarvested = "HARVESTED"
	// StatusUnknown marks a placeholder record synthesized from an update.
	StatusUnknown = "UNKNOWN"
	// UnknownActor owns a placeholder record until its first update lands.
	UnknownActor = "UnknownMSP"
)

// ProducerMetadata is what the farmer supplies when a batch is created.
type ProducerMetadata struct {
	Name        string        `json:"name" bson:"name" validate:"required"`
	Produce     string        `json:"produce" bson:"produce" validate:"required"`
	Price       *float64      `json:"price" bson:"price" validate:"required,gte=0"`
	Quantity    *float64      `json:"quantity" bson:"quantity" validate:"required,gte=0"`
	Location    *geo.GeoPoint `json:"location" bson:"location" validate:"required"`
	HarvestDate string        `json:"harvestDate,omitempty" bson:"harvestDate,omitempty"`
	Role        Role          `json:"role,omitempty" bson:"role,omitempty"`
}

// Normalize validates the metadata and fills the defaults.
func (m *ProducerMetadata) Normalize(now time.Time) error {
	if err := validateStruct(m); err != nil {
		return err
	}
	if m.Role != "" && m.Role != RoleFarmer {
		return NewValidationError(fmt.Sprintf("metadata role must be %q, got %q", RoleFarmer, m.Role), nil)
	}
	m.Role = RoleFarmer
	if err := m.Location.Validate(); err != nil {
		return NewValidationError(err.Error(), err)
	}
	if strings.TrimSpace(m.HarvestDate) == "" {
		m.HarvestDate = now.UTC().Format(time.RFC3339)
	}
	return nil
}

// HistoryEntry is one immutable append to a batch's provenance log.
type HistoryEntry struct {
	Action    Action        `json:"action" bson:"action"`
	Actor     string        `json:"actor" bson:"actor"`
	Location  *geo.GeoPoint `json:"location,omitempty" bson:"location,omitempty"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
	Details   Details       `json:"details" bson:"details"`
}

// BatchRecord is the aggregate root. History is append-only.
type BatchRecord struct {
	BatchID      string           `json:"batchId" bson:"batchId"`
	Metadata     ProducerMetadata `json:"metadata" bson:"metadata"`
	CurrentOwner string           `json:"currentOwner" bson:"currentOwner"`
	Status       string           `json:"status" bson:"status"`
	History      []HistoryEntry   `json:"history" bson:"history"`
}

// NewBatchRecord builds a record holding only its CREATE entry.
// meta must already be normalized.
func NewBatchRecord(batchID string, meta ProducerMetadata, now time.Time) *BatchRecord {
	snapshot := meta
	rec := &BatchRecord{
		BatchID:  batchID,
		Metadata: meta,
	}
	rec.History = []HistoryEntry{{
		Action:    ActionCreate,
		Actor:     RoleFarmer.Actor(),
		Location:  meta.Location,
		Timestamp: now.UTC(),
		Details:   Details{Producer: &snapshot},
	}}
	rec.CurrentOwner = RoleFarmer.Actor()
	rec.Status = StatusHarvested
	return rec
}

// NewPlaceholderRecord synthesizes a record for an update that arrived before
// any create. Producer fields are "Unknown" and the origin is the update's own
// location and time, so the provenance it carries was never actually recorded.
func NewPlaceholderRecord(batchID string, u StatusUpdate, now time.Time) *BatchRecord {
	zero := 0.0
	loc := u.Point()
	meta := ProducerMetadata{
		Name:        "Unknown",
		Produce:     "Unknown",
		Price:       &zero,
		Quantity:    &zero,
		Location:    &loc,
		HarvestDate: now.UTC().Format(time.RFC3339),
		Role:        RoleFarmer,
	}
	snapshot := meta
	return &BatchRecord{
		BatchID:      batchID,
		Metadata:     meta,
		CurrentOwner: UnknownActor,
		Status:       StatusUnknown,
		History: []HistoryEntry{{
			Action:    ActionCreate,
			Actor:     UnknownActor,
			Location:  &loc,
			Timestamp: u.At(),
			Details:   Details{Producer: &snapshot},
		}},
	}
}

// ApplyUpdate appends an UPDATE entry and re-derives owner and status from it.
func (r *BatchRecord) ApplyUpdate(u StatusUpdate) HistoryEntry {
	loc := u.Point()
	entry := HistoryEntry{
		Action:    ActionUpdate,
		Actor:     u.UpdateRole().Actor(),
		Location:  &loc,
		Timestamp: u.At(),
		Details:   detailsOf(u),
	}
	r.History = append(r.History, entry)
	r.CurrentOwner = entry.Actor
	if s := u.NewStatus(); s != "" {
		r.Status = s
	}
	return entry
}

// Last returns the most recent history entry.
func (r *BatchRecord) Last() (HistoryEntry, bool) {
	if len(r.History) == 0 {
		return HistoryEntry{}, false
	}
	return r.History[len(r.History)-1], true
}

// Verify checks the history invariants: non-empty, CREATE first, UPDATE after,
// and the owner matching the last actor.
func (r *BatchRecord) Verify() error {
	if r.BatchID == "" {
		return fmt.Errorf("batch record has no id")
	}
	if len(r.History) == 0 {
		return fmt.Errorf("batch %s has empty history", r.BatchID)
	}
	for i, e := range r.History {
		want := ActionUpdate
		if i == 0 {
			want = ActionCreate
		}
		if e.Action != want {
			return fmt.Errorf("batch %s history[%d] is %s, expected %s", r.BatchID, i, e.Action, want)
		}
	}
	if last, _ := r.Last(); last.Actor != r.CurrentOwner {
		return fmt.Errorf("batch %s owner %q does not match last actor %q", r.BatchID, r.CurrentOwner, last.Actor)
	}
	return nil
}

// Clone copies the record so the caller may append without aliasing the original's history.
func (r *BatchRecord) Clone() *BatchRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.History = append([]HistoryEntry(nil), r.History...)
	return &cp
}
