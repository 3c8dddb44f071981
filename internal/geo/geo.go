// Package geo validates GeoJSON payloads and derives the stored geometry
// and bounding box used for map filtering.
package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Error is returned for payloads that are not acceptable GeoJSON.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

var supportedTypes = map[string]bool{
	"Feature":           true,
	"FeatureCollection": true,
	"Point":             true,
	"LineString":        true,
	"Polygon":           true,
	"MultiPoint":        true,
	"MultiLineString":   true,
	"MultiPolygon":      true,
}

// Shape is a validated GeoJSON document.
type Shape struct {
	Raw        json.RawMessage
	Geometries orb.Collection
}

// Bound returns the bounding box of all geometries, and false when there
// are none.
func (s *Shape) Bound() (orb.Bound, bool) {
	if s == nil || len(s.Geometries) == 0 {
		return orb.Bound{}, false
	}
	return s.Geometries.Bound(), true
}

// GeometryJSON is the flattened geometry collection persisted next to the
// original document.
func (s *Shape) GeometryJSON() (json.RawMessage, error) {
	if s == nil || len(s.Geometries) == 0 {
		return nil, nil
	}
	return json.Marshal(geojson.NewGeometry(s.Geometries))
}

// IsEmpty reports whether raw is absent, null, or an empty object.
func IsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// Parse validates raw GeoJSON. Empty input yields (nil, nil).
func Parse(raw json.RawMessage) (*Shape, error) {
	if IsEmpty(raw) {
		return nil, nil
	}
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &Error{Message: "Invalid geojson format: " + err.Error()}
	}
	if head.Type == nil {
		return nil, &Error{Message: "Invalid geojson format. Type is missing."}
	}
	if !supportedTypes[*head.Type] {
		return nil, &Error{Message: "Invalid geojson format. Type is not supported."}
	}

	shape := &Shape{Raw: append(json.RawMessage(nil), raw...)}
	switch *head.Type {
	case "Feature":
		feature, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, invalid(err)
		}
		shape.Geometries = flatten(shape.Geometries, feature.Geometry)
	case "FeatureCollection":
		collection, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, invalid(err)
		}
		for _, feature := range collection.Features {
			shape.Geometries = flatten(shape.Geometries, feature.Geometry)
		}
	default:
		geometry, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, invalid(err)
		}
		shape.Geometries = flatten(shape.Geometries, geometry.Geometry())
	}
	return shape, nil
}

func invalid(err error) error {
	return &Error{Message: "Invalid geojson format: " + err.Error()}
}

func flatten(out orb.Collection, geometry orb.Geometry) orb.Collection {
	switch value := geometry.(type) {
	case nil:
		return out
	case orb.Collection:
		for _, inner := range value {
			out = flatten(out, inner)
		}
		return out
	default:
		return append(out, value)
	}
}

// ParseBBox reads "west,south,east,north".
func ParseBBox(value string) (orb.Bound, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have four comma-separated numbers")
	}
	numbers := make([]float64, 4)
	for i, part := range parts {
		number, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %q is not a number", part)
		}
		numbers[i] = number
	}
	if numbers[0] > numbers[2] || numbers[1] > numbers[3] {
		return orb.Bound{}, fmt.Errorf("bbox corners are inverted")
	}
	return orb.Bound{Min: orb.Point{numbers[0], numbers[1]}, Max: orb.Point{numbers[2], numbers[3]}}, nil
}
