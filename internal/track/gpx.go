package track

import (
	"strconv"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

// readGPX flattens every track point (or every waypoint when the file has no
// tracks) into a table with columns time, lat, lon, ele.
func readGPX(path string) (*Table, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	t := &Table{Columns: []string{"time", "lat", "lon", "ele"}}
	add := func(p gpx.GPXPoint) {
		row := []string{
			formatZulu(p.Timestamp),
			strconv.FormatFloat(p.Latitude, 'f', -1, 64),
			strconv.FormatFloat(p.Longitude, 'f', -1, 64),
			"",
		}
		if p.Elevation.NotNull() {
			row[3] = strconv.FormatFloat(p.Elevation.Value(), 'f', -1, 64)
		}
		t.Rows = append(t.Rows, row)
	}
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				add(p)
			}
		}
	}
	if len(t.Rows) == 0 {
		for _, p := range g.Waypoints {
			add(p)
		}
	}
	if len(t.Rows) == 0 {
		return nil, &ParseError{Path: path, Reason: "no track points"}
	}
	t.dropEmptyColumns()
	return t, nil
}

func formatZulu(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format("2006-01-02T15:04:05.999Z")
}
