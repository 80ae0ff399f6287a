package trace

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/models"
)

const notAvailable = "N/A"

// LocationDetails is a coordinate plus a best-effort human address.
type LocationDetails struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Enricher resolves coordinates to an address. *geocode.Client satisfies it.
type Enricher interface {
	Reverse(ctx context.Context, p geo.GeoPoint) (string, error)
}

type ProducerSection struct {
	Name            string           `json:"name"`
	Location        string           `json:"location"`
	LocationDetails *LocationDetails `json:"locationDetails"`
	HarvestDate     string           `json:"harvestDate"`
	Produce         string           `json:"produce"`
	Quantity        *float64         `json:"quantity"`
	Price           *float64         `json:"price"`
}

type DistributorSection struct {
	Name             string           `json:"name"`
	Location         string           `json:"location"`
	LocationDetails  *LocationDetails `json:"locationDetails"`
	Quantity         *float64         `json:"quantity"`
	MarginPrice      *float64         `json:"marginPrice"`
	TransportMode    string           `json:"transportMode"`
	ExpectedDelivery string           `json:"expectedDelivery,omitempty"`
	Status           string           `json:"status,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

type RetailerSection struct {
	RetailerName      string           `json:"retailerName"`
	StoreName         string           `json:"storeName"`
	Location          string           `json:"location"`
	LocationDetails   *LocationDetails `json:"locationDetails"`
	SellingPrice      *float64         `json:"sellingPrice"`
	ShelfLife         string           `json:"shelfLife"`
	StorageConditions string           `json:"storageConditions"`
	Status            string           `json:"status,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

// DistributorView is what the intermediary sees: the origin only.
type DistributorView struct {
	BatchID      string          `json:"batchId"`
	Farmer       ProducerSection `json:"farmer"`
	CurrentOwner string          `json:"currentOwner"`
	Status       string          `json:"status"`
}

// RetailerView adds the first distributor handoff.
type RetailerView struct {
	BatchID      string              `json:"batchId"`
	Farmer       ProducerSection     `json:"farmer"`
	Distributor  *DistributorSection `json:"distributor"`
	CurrentOwner string              `json:"currentOwner"`
	Status       string              `json:"status"`
}

type TraceMetadata struct {
	Name            string           `json:"name"`
	Produce         string           `json:"produce"`
	Price           *float64         `json:"price"`
	Quantity        *float64         `json:"quantity"`
	Location        string           `json:"location"`
	LocationDetails *LocationDetails `json:"locationDetails"`
	HarvestDate     string           `json:"harvestDate"`
	Role            models.Role      `json:"role"`
}

type TraceEntry struct {
	Action          models.Action    `json:"action"`
	Actor           string           `json:"actor"`
	Location        string           `json:"location"`
	LocationDetails *LocationDetails `json:"locationDetails"`
	Timestamp       time.Time        `json:"timestamp"`
	Details         models.Details   `json:"details"`
}

// TraceView is the full provenance served to end readers.
type TraceView struct {
	BatchID      string           `json:"batchId"`
	Metadata     TraceMetadata    `json:"metadata"`
	CurrentOwner string           `json:"currentOwner"`
	Status       string           `json:"status"`
	History      []TraceEntry     `json:"history"`
	Retailer     *RetailerSection `json:"retailer,omitempty"`
}

// Assembler builds views and enriches their locations.
type Assembler struct {
	enricher Enricher
	limit    int
	logger   *zap.Logger
}

// NewAssembler accepts a nil enricher; locations then get the coordinate fallback.
func NewAssembler(enricher Enricher, maxConcurrent int, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Assembler{enricher: enricher, limit: maxConcurrent, logger: logger}
}

// Project renders rec for role. farmer and consumer both get the full trace.
func (a *Assembler) Project(ctx context.Context, role models.Role, rec *models.BatchRecord) (any, error) {
	if rec == nil {
		return nil, fmt.Errorf("project: nil record")
	}
	switch role {
	case models.RoleDistributor:
		return a.Distributor(ctx, rec), nil
	case models.RoleRetailer:
		return a.Retailer(ctx, rec), nil
	case models.RoleConsumer, models.RoleFarmer, "":
		return a.Trace(ctx, rec), nil
	}
	return nil, models.NewValidationError(fmt.Sprintf("no view for role %q", role), nil)
}

func (a *Assembler) Distributor(ctx context.Context, rec *models.BatchRecord) *DistributorView {
	j := a.newJobs()
	v := &DistributorView{
		BatchID:      rec.BatchID,
		CurrentOwner: rec.CurrentOwner,
		Status:       rec.Status,
	}
	fillProducer(rec, j, &v.Farmer)
	j.run(ctx, a)
	return v
}

func (a *Assembler) Retailer(ctx context.Context, rec *models.BatchRecord) *RetailerView {
	j := a.newJobs()
	v := &RetailerView{
		BatchID:      rec.BatchID,
		Distributor:  distributorSection(rec, j),
		CurrentOwner: rec.CurrentOwner,
		Status:       rec.Status,
	}
	fillProducer(rec, j, &v.Farmer)
	j.run(ctx, a)
	return v
}

func (a *Assembler) Trace(ctx context.Context, rec *models.BatchRecord) *TraceView {
	j := a.newJobs()
	m := rec.Metadata
	v := &TraceView{
		BatchID: rec.BatchID,
		Metadata: TraceMetadata{
			Name:        m.Name,
			Produce:     m.Produce,
			Price:       m.Price,
			Quantity:    m.Quantity,
			HarvestDate: m.HarvestDate,
			Role:        models.RoleFarmer,
		},
		CurrentOwner: rec.CurrentOwner,
		Status:       rec.Status,
		History:      make([]TraceEntry, len(rec.History)),
	}
	v.Metadata.Location = j.add(m.Location, &v.Metadata.LocationDetails)
	for i, h := range rec.History {
		v.History[i] = TraceEntry{
			Action:    h.Action,
			Actor:     h.Actor,
			Timestamp: h.Timestamp,
			Details:   h.Details,
		}
		v.History[i].Location = j.add(h.Location, &v.History[i].LocationDetails)
	}
	v.Retailer = retailerSection(rec, j)
	j.run(ctx, a)
	return v
}

// Enrich resolves a single point, never failing.
func (a *Assembler) Enrich(ctx context.Context, p geo.GeoPoint) LocationDetails {
	d := LocationDetails{Lat: p.Lat, Lng: p.Lng}
	if a.enricher != nil {
		addr, err := a.enricher.Reverse(ctx, p)
		if err == nil && addr != "" {
			d.Address = addr
			return d
		}
		if err != nil {
			a.logger.Debug("enrichment failed", zap.String("location", p.String()), zap.Error(err))
		}
	}
	d.Address = fmt.Sprintf("%.4f, %.4f", p.Lat, p.Lng)
	return d
}

func fillProducer(rec *models.BatchRecord, j *jobs, s *ProducerSection) {
	m := rec.Metadata
	loc := m.Location
	if e, ok := firstCreate(rec); ok {
		if e.Details.Producer != nil {
			m = *e.Details.Producer
		}
		if e.Location != nil {
			loc = e.Location
		}
	}
	*s = ProducerSection{
		Name:        orUnknown(m.Name),
		HarvestDate: m.HarvestDate,
		Produce:     m.Produce,
		Quantity:    m.Quantity,
		Price:       m.Price,
	}
	s.Location = j.add(loc, &s.LocationDetails)
}

func distributorSection(rec *models.BatchRecord, j *jobs) *DistributorSection {
	e, ok := firstUpdate(rec, models.RoleDistributor)
	if !ok {
		return nil
	}
	d := e.Details.Distributor
	s := &DistributorSection{
		Name:             orUnknown(d.Name),
		Quantity:         d.Quantity,
		MarginPrice:      d.MarginPrice,
		TransportMode:    d.TransportMode,
		ExpectedDelivery: d.ExpectedDelivery,
		Status:           d.Status,
		Timestamp:        e.Timestamp,
	}
	s.Location = j.add(e.Location, &s.LocationDetails)
	return s
}

func retailerSection(rec *models.BatchRecord, j *jobs) *RetailerSection {
	e, ok := firstUpdate(rec, models.RoleRetailer)
	if !ok {
		return nil
	}
	r := e.Details.Retailer
	s := &RetailerSection{
		RetailerName:      r.RetailerName,
		StoreName:         r.StoreName,
		SellingPrice:      r.SellingPrice,
		ShelfLife:         r.ShelfLife,
		StorageConditions: r.StorageConditions,
		Status:            r.Status,
		Timestamp:         e.Timestamp,
	}
	s.Location = j.add(e.Location, &s.LocationDetails)
	return s
}

func firstCreate(rec *models.BatchRecord) (models.HistoryEntry, bool) {
	for _, h := range rec.History {
		if h.Action == models.ActionCreate {
			return h, true
		}
	}
	return models.HistoryEntry{}, false
}

func firstUpdate(rec *models.BatchRecord, role models.Role) (models.HistoryEntry, bool) {
	for _, h := range rec.History {
		if h.Action == models.ActionUpdate && h.Details.Role() == role {
			return h, true
		}
	}
	return models.HistoryEntry{}, false
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// jobs collects the locations of one view so they can be enriched together.
type jobs struct {
	points  []geo.GeoPoint
	targets []**LocationDetails
}

func (a *Assembler) newJobs() *jobs { return &jobs{} }

// add schedules p for enrichment into *dst and returns its canonical string.
func (j *jobs) add(p *geo.GeoPoint, dst **LocationDetails) string {
	s, ok := geo.Stringify(p)
	if !ok {
		return notAvailable
	}
	j.points = append(j.points, *p)
	j.targets = append(j.targets, dst)
	return s
}

func (j *jobs) run(ctx context.Context, a *Assembler) {
	var g errgroup.Group
	g.SetLimit(a.limit)
	for i := range j.points {
		p, dst := j.points[i], j.targets[i]
		g.Go(func() error {
			d := a.Enrich(ctx, p)
			*dst = &d
			return nil
		})
	}
	_ = g.Wait()
}
