package farm

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/kiranshivaraju/agripay/pkg/models"
)

// ParseGeoJSON extracts the outer ring of the first polygon in a GeoJSON
// geometry, feature or feature collection. MultiPolygons contribute their
// first polygon.
func ParseGeoJSON(data []byte) ([]models.Coordinate, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
		}
		geoms = append(geoms, g.Geometry())
	}

	for _, g := range geoms {
		switch p := g.(type) {
		case orb.Polygon:
			if len(p) > 0 {
				return fromRing(p[0]), nil
			}
		case orb.MultiPolygon:
			if len(p) > 0 && len(p[0]) > 0 {
				return fromRing(p[0][0]), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no polygon found", ErrInvalidBoundary)
}

func fromRing(r orb.Ring) []models.Coordinate {
	out := make([]models.Coordinate, len(r))
	for i, p := range r {
		out[i] = models.Coordinate{p[0], p[1]}
	}
	return out
}

func toRing(coords []models.Coordinate) orb.Ring {
	r := make(orb.Ring, len(coords))
	for i, c := range coords {
		r[i] = orb.Point{c[0], c[1]}
	}
	return r
}

// kmlPolygon is the part of a KML Polygon element a farm boundary needs.
type kmlPolygon struct {
	Coordinates string `xml:"outerBoundaryIs>LinearRing>coordinates"`
}

// ParseKML reads the outer boundary of the first Polygon in a KML document,
// and the name of the Placemark holding it when it has one.
func ParseKML(r io.Reader) (name string, boundary []models.Coordinate, err error) {
	dec := xml.NewDecoder(r)
	var placemark string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("%w: no polygon found", ErrInvalidBoundary)
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Placemark":
			placemark = ""
		case "name":
			var n string
			if err := dec.DecodeElement(&n, &start); err != nil {
				return "", nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
			}
			placemark = strings.TrimSpace(n)
		case "Polygon":
			var p kmlPolygon
			if err := dec.DecodeElement(&p, &start); err != nil {
				return "", nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
			}
			coords, err := parseKMLCoordinates(p.Coordinates)
			if err != nil {
				return "", nil, err
			}
			return placemark, coords, nil
		}
	}
}

// parseKMLCoordinates reads whitespace separated "lng,lat[,alt]" tuples.
func parseKMLCoordinates(s string) ([]models.Coordinate, error) {
	var out []models.Coordinate
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: bad coordinate %q", ErrInvalidBoundary, tuple)
		}
		lng, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad longitude %q", ErrInvalidBoundary, parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad latitude %q", ErrInvalidBoundary, parts[1])
		}
		out = append(out, models.Coordinate{lng, lat})
	}
	return out, nil
}

// normalize validates a boundary and returns it as a closed ring.
func normalize(coords []models.Coordinate) ([]models.Coordinate, error) {
	distinct := make(map[models.Coordinate]struct{}, len(coords))
	for _, c := range coords {
		lng, lat := c[0], c[1]
		if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("%w: coordinate [%g, %g] out of range", ErrInvalidBoundary, lng, lat)
		}
		distinct[c] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 distinct points", ErrInvalidBoundary)
	}

	ring := append([]models.Coordinate(nil), coords...)
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	if selfIntersects(ring) {
		return nil, fmt.Errorf("%w: boundary crosses itself", ErrInvalidBoundary)
	}
	return ring, nil
}

// areaHectares is the geodesic area enclosed by a closed ring.
func areaHectares(ring []models.Coordinate) float64 {
	return math.Abs(geo.Area(toRing(ring))) / 10_000
}

// selfIntersects reports whether two non-adjacent edges of a closed ring
// cross or touch.
func selfIntersects(ring []models.Coordinate) bool {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 models.Coordinate) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c models.Coordinate) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p models.Coordinate) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
