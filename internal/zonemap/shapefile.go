package zonemap

import (
	"strings"
	"unicode"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// zonePolygon is one administrative boundary read from the shapefile. Rings
// beyond the first are holes.
type zonePolygon struct {
	code    string
	name    string
	polygon *geom.Polygon
}

// Resolver maps points (and, as a fallback, accent-folded names) to admin
// zone codes loaded from a boundary shapefile.
type Resolver struct {
	zones  []zonePolygon
	byName map[string]string
}

// LoadShapefile reads the admin boundary shapefile. codeField and nameField
// name the DBF attributes carrying the zone code and display name.
func LoadShapefile(path, codeField, nameField string) (*Resolver, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zonemap: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	codeIdx, ok := fieldIdx[strings.ToLower(codeField)]
	if !ok {
		return nil, eris.Errorf("zonemap: shapefile has no %q attribute", codeField)
	}
	nameIdx, hasName := fieldIdx[strings.ToLower(nameField)]

	r := &Resolver{byName: make(map[string]string)}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || len(poly.Points) == 0 {
			skipped++
			continue
		}

		code := strings.TrimSpace(strings.TrimRight(reader.Attribute(codeIdx), "\x00"))
		if code == "" {
			skipped++
			continue
		}

		g := shpPolygonToGeom(poly)
		if g == nil {
			skipped++
			continue
		}

		name := ""
		if hasName {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}
		if name != "" {
			r.byName[foldName(name)] = code
		}
		r.zones = append(r.zones, zonePolygon{code: code, name: name, polygon: g})
	}

	if skipped > 0 {
		zap.L().Debug("zonemap: skipped shapefile records", zap.Int("skipped", skipped))
	}
	if len(r.zones) == 0 {
		return nil, eris.Errorf("zonemap: no usable polygons in %s", path)
	}
	return r, nil
}

// Resolve returns the zone containing the point, testing the outer ring and
// excluding holes.
func (r *Resolver) Resolve(lon, lat float64) (string, bool) {
	pt := geom.Coord{lon, lat}
	for _, z := range r.zones {
		if !xy.IsPointInRing(geom.XY, pt, z.polygon.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for i := 1; i < z.polygon.NumLinearRings(); i++ {
			if xy.IsPointInRing(geom.XY, pt, z.polygon.LinearRing(i).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return z.code, true
		}
	}
	return "", false
}

// ResolveName matches a zone by accent-folded, case-insensitive name.
// Boundary files for the region carry French names with inconsistent
// diacritics, so "Sélibaby" and "Selibaby" must meet.
func (r *Resolver) ResolveName(name string) (string, bool) {
	code, ok := r.byName[foldName(name)]
	return code, ok
}

// Backfill resolves each unmapped station by point-in-polygon and returns
// stationID → admin code for the stations that landed in a zone. Already
// mapped stations are left untouched.
func Backfill(stations []model.Station, r *Resolver) map[string]string {
	resolved := make(map[string]string)
	for _, s := range stations {
		if s.Mapped() {
			continue
		}
		if code, ok := r.Resolve(s.Longitude, s.Latitude); ok {
			resolved[s.ID] = code
		}
	}
	return resolved
}

// shpPolygonToGeom converts a shapefile polygon (possibly multi-ring) into a
// geom.Polygon.
func shpPolygonToGeom(p *shp.Polygon) *geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	g := geom.NewPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		coords := make([]geom.Coord, 0, end-start)
		for _, pt := range p.Points[start:end] {
			coords = append(coords, geom.Coord{pt.X, pt.Y})
		}
		if len(coords) < 4 {
			continue
		}
		if err := g.Push(geom.NewLinearRing(geom.XY).MustSetCoords(coords)); err != nil {
			continue
		}
	}
	if g.NumLinearRings() == 0 {
		return nil
	}
	return g
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName strips diacritics and case for name matching.
func foldName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
