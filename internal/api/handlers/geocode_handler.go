package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/trace"
)

// Enricher is satisfied by *trace.Assembler.
type Enricher interface {
	Enrich(ctx context.Context, p geo.GeoPoint) trace.LocationDetails
}

// Geocoder is satisfied by *geocode.Client.
type Geocoder interface {
	Reverse(ctx context.Context, p geo.GeoPoint) (string, error)
}

type GeocodeHandler struct {
	Enricher Enricher
	Geocoder Geocoder
	Logger   *zap.Logger
}

// ReverseGeocode handles GET /api/geocode/reverse. It always answers with a
// LocationDetails, falling back to the coordinates as the address.
func (h *GeocodeHandler) ReverseGeocode(c *gin.Context) {
	p, ok := h.point(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Enricher.Enrich(c.Request.Context(), p))
}

// LookupAddress handles GET /api/reverse-geocode. Unlike ReverseGeocode it
// reports provider failure as 502.
func (h *GeocodeHandler) LookupAddress(c *gin.Context) {
	p, ok := h.point(c)
	if !ok {
		return
	}
	addr, err := h.Geocoder.Reverse(c.Request.Context(), p)
	if err != nil {
		orNop(h.Logger).Debug("address lookup failed", zap.String("location", p.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to fetch address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lat": p.Lat, "lon": p.Lng, "address": addr})
}

func (h *GeocodeHandler) point(c *gin.Context) (geo.GeoPoint, bool) {
	latStr, lonStr := c.Query("lat"), c.Query("lon")
	if latStr == "" || lonStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "lat and lon query parameters are required"})
		return geo.GeoPoint{}, false
	}
	lat, errLat := strconv.ParseFloat(latStr, 64)
	lng, errLng := strconv.ParseFloat(lonStr, 64)
	p := geo.GeoPoint{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "lat and lon must be numbers"})
		return geo.GeoPoint{}, false
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return geo.GeoPoint{}, false
	}
	return p, true
}
