package geocode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"agri-trace-api-server/internal/geo"
)

const unknownAddress = "Unknown, Unknown, Unknown"

// Provider is one reverse-geocoding backend.
type Provider struct {
	Name    string
	URL     string
	Params  func(p geo.GeoPoint) map[string]string
	Extract func(body []byte) (string, error)
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func or(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// BigDataCloud is the keyless client endpoint.
func BigDataCloud(url string) Provider {
	return Provider{
		Name: "bigdatacloud",
		URL:  url,
		Params: func(p geo.GeoPoint) map[string]string {
			return map[string]string{"latitude": coord(p.Lat), "longitude": coord(p.Lng), "localityLanguage": "en"}
		},
		Extract: func(body []byte) (string, error) {
			var r struct {
				City                 string `json:"city"`
				PrincipalSubdivision string `json:"principalSubdivision"`
				CountryName          string `json:"countryName"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s, %s, %s", or(r.City), or(r.PrincipalSubdivision), or(r.CountryName)), nil
		},
	}
}

// nominatimStyle decodes the OSM-shaped payload both maps.co and Nominatim return.
func nominatimStyle(body []byte) (string, error) {
	var r struct {
		DisplayName string `json:"display_name"`
		Address     struct {
			City    string `json:"city"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return "", err
	}
	if r.DisplayName != "" {
		return r.DisplayName, nil
	}
	return fmt.Sprintf("%s, %s, %s", or(r.Address.City), or(r.Address.State), or(r.Address.Country)), nil
}

// MapsCo is geocode.maps.co; apiKey may be empty.
func MapsCo(url, apiKey string) Provider {
	return Provider{
		Name: "mapsco",
		URL:  url,
		Params: func(p geo.GeoPoint) map[string]string {
			q := map[string]string{"lat": coord(p.Lat), "lon": coord(p.Lng)}
			if apiKey != "" {
				q["api_key"] = apiKey
			}
			return q
		},
		Extract: nominatimStyle,
	}
}

func Nominatim(url string) Provider {
	return Provider{
		Name: "nominatim",
		URL:  url,
		Params: func(p geo.GeoPoint) map[string]string {
			return map[string]string{"format": "json", "lat": coord(p.Lat), "lon": coord(p.Lng), "addressdetails": "1"}
		},
		Extract: nominatimStyle,
	}
}
