// Package geo converts between the structured coordinate pair used internally
// and the "lat,lng" text form that clients and the ledger may send instead.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidLocation is returned for any input that cannot be read as a coordinate pair.
var ErrInvalidLocation = errors.New("invalid location")

var pairPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)

// GeoPoint is a WGS 84 latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate checks that both coordinates are inside their ranges.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range [-90, 90]", ErrInvalidLocation, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lng %v out of range [-180, 180]", ErrInvalidLocation, p.Lng)
	}
	return nil
}

// String renders the canonical "lat,lng" form.
func (p GeoPoint) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// Parse reads the "lat,lng" text form. Surrounding whitespace is allowed.
func Parse(s string) (GeoPoint, error) {
	m := pairPattern.FindStringSubmatch(s)
	if m == nil {
		return GeoPoint{}, fmt.Errorf("%w: %q must be \"lat,lng\"", ErrInvalidLocation, s)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	p := GeoPoint{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Normalize accepts either wire representation and returns the structured form.
// Supported inputs are GeoPoint, *GeoPoint, string, json.RawMessage and the
// map produced by decoding a JSON object.
func Normalize(input any) (GeoPoint, error) {
	switch v := input.(type) {
	case GeoPoint:
		return v, v.Validate()
	case *GeoPoint:
		if v == nil {
			return GeoPoint{}, fmt.Errorf("%w: missing", ErrInvalidLocation)
		}
		return *v, v.Validate()
	case string:
		return Parse(v)
	case json.RawMessage:
		return Decode(v)
	case []byte:
		return Decode(v)
	case map[string]any:
		lat, okLat := v["lat"].(float64)
		lng, okLng := v["lng"].(float64)
		if !okLat || !okLng {
			return GeoPoint{}, fmt.Errorf("%w: object needs numeric lat and lng", ErrInvalidLocation)
		}
		p := GeoPoint{Lat: lat, Lng: lng}
		return p, p.Validate()
	default:
		return GeoPoint{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidLocation, input)
	}
}

// Decode reads a JSON value holding either a {"lat","lng"} object or a "lat,lng" string.
func Decode(data []byte) (GeoPoint, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return GeoPoint{}, fmt.Errorf("%w: missing", ErrInvalidLocation)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return GeoPoint{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
		return Parse(s)
	}
	// a plain struct here; decoding into GeoPoint would recurse into UnmarshalJSON
	var obj struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return GeoPoint{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if obj.Lat == nil || obj.Lng == nil {
		return GeoPoint{}, fmt.Errorf("%w: object needs lat and lng", ErrInvalidLocation)
	}
	p := GeoPoint{Lat: *obj.Lat, Lng: *obj.Lng}
	return p, p.Validate()
}

// Stringify never fails; it reports false when there is no point to render.
func Stringify(p *GeoPoint) (string, bool) {
	if p == nil {
		return "", false
	}
	return p.String(), true
}

// UnmarshalJSON accepts both the object and the "lat,lng" string form.
func (p *GeoPoint) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
