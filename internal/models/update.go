package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"agri-trace-api-server/internal/geo"
)

// StatusUpdate is the closed set of downstream payloads: *DistributorUpdate or *RetailerUpdate.
type StatusUpdate interface {
	UpdateRole() Role
	Point() geo.GeoPoint
	NewStatus() string
	At() time.Time
	// Normalize validates the payload and fills defaults.
	Normalize(now time.Time) error

	sealed()
}

// DistributorUpdate is the intermediary's handoff record.
type DistributorUpdate struct {
	Role             Role          `json:"role" bson:"role"`
	Name             string        `json:"name" bson:"name" validate:"required"`
	Quantity         *float64      `json:"quantity" bson:"quantity" validate:"required,gte=0"`
	MarginPrice      *float64      `json:"marginPrice" bson:"marginPrice" validate:"required,gte=0"`
	Location         *geo.GeoPoint `json:"location" bson:"location" validate:"required"`
	TransportMode    string        `json:"transportMode" bson:"transportMode" validate:"required"`
	ExpectedDelivery string        `json:"expectedDelivery" bson:"expectedDelivery" validate:"required"`
	Status           string        `json:"status,omitempty" bson:"status,omitempty"`
	Note             string        `json:"note,omitempty" bson:"note,omitempty"`
	Timestamp        string        `json:"timestamp,omitempty" bson:"timestamp,omitempty"`

	at time.Time
}

// RetailerUpdate is the retail stage's shelf record.
type RetailerUpdate struct {
	Role              Role          `json:"role" bson:"role"`
	RetailerName      string        `json:"retailerName" bson:"retailerName" validate:"required"`
	StoreName         string        `json:"storeName" bson:"storeName" validate:"required"`
	SellingPrice      *float64      `json:"sellingPrice" bson:"sellingPrice" validate:"required,gte=0"`
	Location          *geo.GeoPoint `json:"location" bson:"location" validate:"required"`
	ShelfLife         string        `json:"shelfLife" bson:"shelfLife" validate:"required"`
	StorageConditions string        `json:"storageConditions" bson:"storageConditions" validate:"required"`
	Status            string        `json:"status,omitempty" bson:"status,omitempty"`
	Note              string        `json:"note,omitempty" bson:"note,omitempty"`
	Timestamp         string        `json:"timestamp,omitempty" bson:"timestamp,omitempty"`

	at time.Time
}

func (*DistributorUpdate) sealed() {}
func (*RetailerUpdate) sealed()    {}

func (u *DistributorUpdate) UpdateRole() Role    { return RoleDistributor }
func (u *DistributorUpdate) Point() geo.GeoPoint { return *u.Location }
func (u *DistributorUpdate) NewStatus() string   { return u.Status }
func (u *DistributorUpdate) At() time.Time       { return u.at }
func (u *RetailerUpdate) UpdateRole() Role       { return RoleRetailer }
func (u *RetailerUpdate) Point() geo.GeoPoint    { return *u.Location }
func (u *RetailerUpdate) NewStatus() string      { return u.Status }
func (u *RetailerUpdate) At() time.Time          { return u.at }

func (u *DistributorUpdate) Normalize(now time.Time) error {
	if err := validateStruct(u); err != nil {
		return err
	}
	u.Role = RoleDistributor
	ts, at, err := normalizeTimestamp(u.Timestamp, now)
	if err != nil {
		return err
	}
	u.Timestamp, u.at = ts, at
	u.Status = strings.TrimSpace(u.Status)
	return validateLocation(u.Location)
}

func (u *RetailerUpdate) Normalize(now time.Time) error {
	if err := validateStruct(u); err != nil {
		return err
	}
	u.Role = RoleRetailer
	ts, at, err := normalizeTimestamp(u.Timestamp, now)
	if err != nil {
		return err
	}
	u.Timestamp, u.at = ts, at
	u.Status = strings.TrimSpace(u.Status)
	return validateLocation(u.Location)
}

// DecodeStatusUpdate reads a role-tagged payload into its concrete variant.
// It does not normalize; call Normalize on the result.
func DecodeStatusUpdate(data []byte) (StatusUpdate, error) {
	var tag struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, NewValidationError("statusUpdate must be a JSON object", err)
	}
	if tag.Role == "" {
		return nil, NewValidationError("statusUpdate.role is required", nil)
	}
	role, err := ParseRole(tag.Role)
	if err != nil {
		return nil, err
	}
	var u StatusUpdate
	switch role {
	case RoleDistributor:
		u = &DistributorUpdate{}
	case RoleRetailer:
		u = &RetailerUpdate{}
	default:
		return nil, NewValidationError(fmt.Sprintf("role %q cannot submit a status update", role), nil)
	}
	if err := json.Unmarshal(data, u); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	return u, nil
}

func validateLocation(p *geo.GeoPoint) error {
	if err := p.Validate(); err != nil {
		return NewValidationError(err.Error(), err)
	}
	return nil
}

// normalizeTimestamp defaults an empty timestamp to now and returns both the
// wire string and the parsed instant.
func normalizeTimestamp(ts string, now time.Time) (string, time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		now = now.UTC()
		return now.Format(time.RFC3339Nano), now, nil
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", time.Time{}, NewValidationError(fmt.Sprintf("timestamp %q is not ISO-8601", ts), err)
	}
	return ts, at.UTC(), nil
}

// Details is the role-tagged payload of a history entry. Exactly one field is set.
type Details struct {
	Producer    *ProducerMetadata
	Distributor *DistributorUpdate
	Retailer    *RetailerUpdate
}

// detailsOf copies the wire fields of u. The parsed instant lives on the entry.
func detailsOf(u StatusUpdate) Details {
	switch v := u.(type) {
	case *DistributorUpdate:
		cp := *v
		cp.at = time.Time{}
		return Details{Distributor: &cp}
	case *RetailerUpdate:
		cp := *v
		cp.at = time.Time{}
		return Details{Retailer: &cp}
	}
	return Details{}
}

// Role reports which variant is set, or "" when none is.
func (d Details) Role() Role {
	switch {
	case d.Producer != nil:
		return RoleFarmer
	case d.Distributor != nil:
		return RoleDistributor
	case d.Retailer != nil:
		return RoleRetailer
	}
	return ""
}

func (d Details) active() any {
	switch {
	case d.Producer != nil:
		return d.Producer
	case d.Distributor != nil:
		return d.Distributor
	case d.Retailer != nil:
		return d.Retailer
	}
	return nil
}

func (d Details) target(role Role) (any, error) {
	switch role {
	case RoleFarmer:
		return &ProducerMetadata{}, nil
	case RoleDistributor:
		return &DistributorUpdate{}, nil
	case RoleRetailer:
		return &RetailerUpdate{}, nil
	}
	return nil, fmt.Errorf("details: unknown role %q", role)
}

func (d *Details) set(v any) {
	switch t := v.(type) {
	case *ProducerMetadata:
		t.Role = RoleFarmer
		d.Producer = t
	case *DistributorUpdate:
		t.Role = RoleDistributor
		d.Distributor = t
	case *RetailerUpdate:
		t.Role = RoleRetailer
		d.Retailer = t
	}
}

func (d Details) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.active())
}

func (d *Details) UnmarshalJSON(data []byte) error {
	*d = Details{}
	if strings.TrimSpace(string(data)) == "null" {
		return nil
	}
	var tag struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Role == "" {
		// CREATE entries written without a tag carry producer metadata.
		tag.Role = string(RoleFarmer)
	}
	role, err := ParseRole(tag.Role)
	if err != nil {
		return err
	}
	v, err := d.target(role)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	d.set(v)
	return nil
}

func (d Details) MarshalBSON() ([]byte, error) {
	if v := d.active(); v != nil {
		return bson.Marshal(v)
	}
	return bson.Marshal(bson.D{})
}

func (d *Details) UnmarshalBSON(data []byte) error {
	*d = Details{}
	raw := bson.Raw(data)
	tag, ok := raw.Lookup("role").StringValueOK()
	if !ok {
		return nil
	}
	role, err := ParseRole(tag)
	if err != nil {
		return err
	}
	v, err := d.target(role)
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(data, v); err != nil {
		return err
	}
	d.set(v)
	return nil
}

// Status returns the status a downstream payload carried, if any.
func (d Details) Status() string {
	switch {
	case d.Distributor != nil:
		return d.Distributor.Status
	case d.Retailer != nil:
		return d.Retailer.Status
	}
	return ""
}
