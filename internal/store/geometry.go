package store

import (
	"encoding/binary"

	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// EncodePoint returns a WKB POINT (x=lng, y=lat).
func EncodePoint(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat})
	return wkb.Marshal(p, binary.LittleEndian)
}

// ParseGeometry converts a GeoJSON geometry into WKB. An empty string yields nil.
func ParseGeometry(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	var g geom.T
	if err := gjson.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return wkb.Marshal(g, binary.LittleEndian)
}

// GeometryToGeoJSON converts WKB bytes into a GeoJSON string.
func GeometryToGeoJSON(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return "", err
	}
	out, err := gjson.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
