package georef

import (
	"encoding/json"
	"os"

	"github.com/peterstace/simplefeatures/geom"
)

// FootprintsFile is the GeoJSON written next to the KMZ archives.
const FootprintsFile = "footprints.geojson"

// Geometry returns the footprint as a closed polygon, or as a closed ring
// line when the quad self-intersects.
func (o GroundOverlay) Geometry() geom.Geometry {
	coords := make([]float64, 0, 10)
	for _, c := range o.Quad {
		coords = append(coords, c.Lon, c.Lat)
	}
	coords = append(coords, o.Quad[0].Lon, o.Quad[0].Lat)
	ring := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	poly := geom.NewPolygon([]geom.LineString{ring})
	if err := poly.Validate(); err != nil {
		return ring.AsGeometry()
	}
	return poly.AsGeometry()
}

// FeatureCollection builds one feature per overlay.
func FeatureCollection(overlays []GroundOverlay) geom.GeoJSONFeatureCollection {
	fc := make(geom.GeoJSONFeatureCollection, 0, len(overlays))
	for _, o := range overlays {
		fc = append(fc, geom.GeoJSONFeature{
			Geometry: o.Geometry(),
			ID:       o.MosaicIndex,
			Properties: map[string]any{
				"mosaic":   o.MosaicIndex,
				"heading":  o.Heading,
				"depth":    o.Depth,
				"width_m":  o.WidthM,
				"length_m": o.LengthM,
				"branch":   o.Branch,
				"date":     o.Date,
			},
		})
	}
	return fc
}

// WriteFootprints writes overlays as a GeoJSON FeatureCollection.
func WriteFootprints(path string, overlays []GroundOverlay) error {
	data, err := json.MarshalIndent(FeatureCollection(overlays), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
