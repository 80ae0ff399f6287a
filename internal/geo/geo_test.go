package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    GeoPoint
		wantErr bool
	}{
		{in: "11.01,76.95", want: GeoPoint{Lat: 11.01, Lng: 76.95}},
		{in: "  -33.8688 , 151.2093 ", want: GeoPoint{Lat: -33.8688, Lng: 151.2093}},
		{in: "0,0", want: GeoPoint{}},
		{in: "90,-180", want: GeoPoint{Lat: 90, Lng: -180}},
		{in: "91,0", wantErr: true},
		{in: "0,181", wantErr: true},
		{in: "12.,77", wantErr: true},
		{in: "1e3,4", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "12;77", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidLocation, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestNormalizeAcceptsBothWireForms(t *testing.T) {
	fromString, err := Normalize("12,77")
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"lat":12,"lng":77}`), &obj))
	fromMap, err := Normalize(obj)
	require.NoError(t, err)

	fromRaw, err := Normalize(json.RawMessage(`"12,77"`))
	require.NoError(t, err)

	assert.Equal(t, GeoPoint{Lat: 12, Lng: 77}, fromString)
	assert.Equal(t, fromString, fromMap)
	assert.Equal(t, fromString, fromRaw)

	_, err = Normalize(42)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = Normalize((*GeoPoint)(nil))
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestDecodeRejectsIncompleteObject(t *testing.T) {
	_, err := Decode([]byte(`{"lat":1}`))
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = Decode([]byte(`null`))
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestStringifyRoundTrip(t *testing.T) {
	points := []GeoPoint{
		{Lat: 11.01, Lng: 76.95},
		{Lat: -0.000001, Lng: 179.999999},
		{Lat: 90, Lng: -180},
		{Lat: 12, Lng: 77},
		{Lat: -45.123456789, Lng: 0.5},
	}
	for _, p := range points {
		s, ok := Stringify(&p)
		require.True(t, ok)
		back, err := Normalize(s)
		require.NoError(t, err, s)
		assert.Equal(t, p, back)

		again, _ := Stringify(&back)
		assert.Equal(t, s, again)
	}

	s, ok := Stringify(nil)
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestGeoPointUnmarshalJSON(t *testing.T) {
	var payload struct {
		A GeoPoint  `json:"a"`
		B *GeoPoint `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":" 11.01 , 76.95 ","b":{"lat":12,"lng":77}}`), &payload))
	assert.Equal(t, GeoPoint{Lat: 11.01, Lng: 76.95}, payload.A)
	require.NotNil(t, payload.B)
	assert.Equal(t, GeoPoint{Lat: 12, Lng: 77}, *payload.B)

	err := json.Unmarshal([]byte(`{"a":"200,0"}`), &payload)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	out, err := json.Marshal(GeoPoint{Lat: 1.5, Lng: -2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":1.5,"lng":-2}`, string(out))
}
