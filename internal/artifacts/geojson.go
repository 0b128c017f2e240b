package artifacts

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/raceops/courseflow/internal/course"
)

const metersPerDegreeLat = 111320.0

// FeatureCollection is the bins.geojson.gz document. One Polygon feature
// per bin; the feature count equals the parquet row count.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one bin rendered as a Polygon.
type Feature struct {
	Type       string   `json:"type"`
	Geometry   Geometry `json:"geometry"`
	Properties BinRow   `json:"properties"`
}

// Geometry is a GeoJSON Polygon: one outer ring of [lon, lat] positions.
type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// ReadBinsGeoJSON reads a gzipped bin FeatureCollection back from disk.
func ReadBinsGeoJSON(path string) (*FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geojson: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	var fc FeatureCollection

	if err := json.NewDecoder(zr).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	return &fc, nil
}

func (e *Emitter) writeBinsGeoJSON(path string, crs *course.Course, d Day, rows []BinRow) error {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(rows))}

	for _, row := range rows {
		seg, ok := crs.Segment(row.SegID)
		if !ok {
			return fmt.Errorf("bin references unknown segment %q", row.SegID)
		}

		base, _ := seg.BaseKm(d.Events)
		length := seg.LengthKm(d.Events)

		f0 := kmFraction(row.KmStart, base, length)
		f1 := kmFraction(row.KmEnd, base, length)

		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Polygon",
				Coordinates: [][][2]float64{binRing(seg.Geometry, f0, f1, seg.WidthM)},
			},
			Properties: row,
		})
	}

	return writeAtomic(path, func(w io.Writer) error {
		zw := gzip.NewWriter(w)

		if err := json.NewEncoder(zw).Encode(&fc); err != nil {
			return fmt.Errorf("encode geojson: %w", err)
		}

		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}

		return nil
	})
}

// kmFraction maps a kilometrage label onto the [0, 1] extent of the
// segment polyline.
func kmFraction(km, baseKm, lengthKm float64) float64 {
	if lengthKm <= 0 {
		return 0
	}

	f := (km - baseKm) / lengthKm

	return math.Min(1, math.Max(0, f))
}

// binRing builds the bin's closed polygon ring: the sub-polyline between
// the two fractions, offset half the segment width to each side.
func binRing(geom []course.LatLon, f0, f1, widthM float64) [][2]float64 {
	line := subPolyline(geom, f0, f1)
	halfM := widthM / 2

	if halfM <= 0 {
		halfM = 0.5
	}

	left := offsetLine(line, halfM)
	right := offsetLine(line, -halfM)

	ring := make([][2]float64, 0, len(left)+len(right)+1)
	ring = append(ring, left...)

	for i := len(right) - 1; i >= 0; i-- {
		ring = append(ring, right[i])
	}

	// Close the ring.
	ring = append(ring, ring[0])

	return ring
}

// subPolyline extracts the polyline portion between two length fractions,
// interpolating the cut endpoints and keeping interior vertices.
func subPolyline(geom []course.LatLon, f0, f1 float64) []course.LatLon {
	if f1 < f0 {
		f0, f1 = f1, f0
	}

	cum := cumulativeLengths(geom)
	total := cum[len(cum)-1]

	if total == 0 {
		return []course.LatLon{geom[0], geom[len(geom)-1]}
	}

	start := f0 * total
	end := f1 * total

	out := []course.LatLon{pointAt(geom, cum, start)}

	for i := 1; i < len(geom)-1; i++ {
		if cum[i] > start && cum[i] < end {
			out = append(out, geom[i])
		}
	}

	out = append(out, pointAt(geom, cum, end))

	return out
}

func cumulativeLengths(geom []course.LatLon) []float64 {
	cum := make([]float64, len(geom))

	for i := 1; i < len(geom); i++ {
		cum[i] = cum[i-1] + planarDistanceM(geom[i-1], geom[i])
	}

	return cum
}

// planarDistanceM approximates the distance between two nearby coordinates
// with an equirectangular projection, good enough for polygon rendering.
func planarDistanceM(a, b course.LatLon) float64 {
	midLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dx := (b.Lon - a.Lon) * metersPerDegreeLat * math.Cos(midLat)
	dy := (b.Lat - a.Lat) * metersPerDegreeLat

	return math.Hypot(dx, dy)
}

// pointAt interpolates the point at the given arc length along the polyline.
func pointAt(geom []course.LatLon, cum []float64, at float64) course.LatLon {
	if at <= 0 {
		return geom[0]
	}

	last := len(geom) - 1
	if at >= cum[last] {
		return geom[last]
	}

	for i := 1; i <= last; i++ {
		if cum[i] >= at {
			span := cum[i] - cum[i-1]
			if span == 0 {
				return geom[i]
			}

			t := (at - cum[i-1]) / span

			return course.LatLon{
				Lat: geom[i-1].Lat + t*(geom[i].Lat-geom[i-1].Lat),
				Lon: geom[i-1].Lon + t*(geom[i].Lon-geom[i-1].Lon),
			}
		}
	}

	return geom[last]
}

// offsetLine shifts the line perpendicular by the given meters; positive
// offsets to the left of the direction of travel. Returns [lon, lat]
// positions.
func offsetLine(line []course.LatLon, offsetM float64) [][2]float64 {
	out := make([][2]float64, len(line))

	for i, p := range line {
		nx, ny := normalAt(line, i)

		latRad := p.Lat * math.Pi / 180
		lonScale := metersPerDegreeLat * math.Cos(latRad)
		if lonScale == 0 {
			lonScale = metersPerDegreeLat
		}

		out[i] = [2]float64{
			p.Lon + nx*offsetM/lonScale,
			p.Lat + ny*offsetM/metersPerDegreeLat,
		}
	}

	return out
}

// normalAt returns the unit left-normal of the polyline at vertex i,
// averaging the adjacent edge directions at interior vertices.
func normalAt(line []course.LatLon, i int) (float64, float64) {
	dirX, dirY := 0.0, 0.0

	if i > 0 {
		x, y := edgeDirection(line[i-1], line[i])
		dirX += x
		dirY += y
	}

	if i < len(line)-1 {
		x, y := edgeDirection(line[i], line[i+1])
		dirX += x
		dirY += y
	}

	norm := math.Hypot(dirX, dirY)
	if norm == 0 {
		return 0, 1
	}

	return -dirY / norm, dirX / norm
}

func edgeDirection(a, b course.LatLon) (float64, float64) {
	midLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dx := (b.Lon - a.Lon) * math.Cos(midLat)
	dy := b.Lat - a.Lat

	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return 0, 0
	}

	return dx / norm, dy / norm
}
