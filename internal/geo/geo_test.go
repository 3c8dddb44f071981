package geo

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		shape, err := Parse(json.RawMessage(raw))
		if err != nil || shape != nil {
			t.Fatalf("expected nil shape for %q, got %v %v", raw, shape, err)
		}
	}
}

func TestParseRejectsUnsupportedType(t *testing.T) {
	raw := json.RawMessage(`{"type":"GeometryCollection","geometries":[]}`)
	_, err := Parse(raw)
	var geoErr *Error
	if !errors.As(err, &geoErr) || geoErr.Message != "Invalid geojson format. Type is not supported." {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"coordinates":[1,2]}`))
	var geoErr *Error
	if !errors.As(err, &geoErr) {
		t.Fatalf("expected geo error, got %v", err)
	}
}

func TestParseFeatureCollectionBound(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [24.9, 60.1]}},
			{"type": "Feature", "properties": {}, "geometry": {"type": "LineString", "coordinates": [[25.0, 60.2], [25.1, 60.3]]}}
		]
	}`)
	shape, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(shape.Geometries) != 2 {
		t.Fatalf("expected two geometries, got %d", len(shape.Geometries))
	}
	bound, ok := shape.Bound()
	if !ok {
		t.Fatal("expected a bound")
	}
	if bound.Min[0] != 24.9 || bound.Min[1] != 60.1 || bound.Max[0] != 25.1 || bound.Max[1] != 60.3 {
		t.Fatalf("unexpected bound %v", bound)
	}
	if _, err := shape.GeometryJSON(); err != nil {
		t.Fatalf("geometry json: %v", err)
	}
}

func TestParsePlainGeometry(t *testing.T) {
	shape, err := Parse(json.RawMessage(`{"type":"Point","coordinates":[24.94,60.17]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(shape.Geometries) != 1 {
		t.Fatalf("expected single geometry, got %d", len(shape.Geometries))
	}
}

func TestParseBBox(t *testing.T) {
	bound, err := ParseBBox("24.8,60.1,25.2,60.3")
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if bound.Max[1] != 60.3 {
		t.Fatalf("unexpected bound %v", bound)
	}
	if _, err := ParseBBox("1,2,3"); err == nil {
		t.Fatal("expected error for three values")
	}
	if _, err := ParseBBox("5,5,1,1"); err == nil {
		t.Fatal("expected error for inverted box")
	}
}
