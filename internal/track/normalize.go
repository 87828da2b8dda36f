package track

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"reefstitch/internal/config"
)

// Stats summarizes what normalization did to the source rows.
type Stats struct {
	Rows               int
	Dropped            int // missing or unparseable time, lat or lon, or another date
	Duplicates         int
	DepthFilled        int
	HeadingFilled      int
	HeadingSynthesized bool
	Warnings           []string
}

func (s *Stats) warn(logger *slog.Logger, msg string, args ...any) {
	s.Warnings = append(s.Warnings, msg)
	logger.Warn(msg, args...)
}

// Normalizer turns raw track exports into Tracks.
type Normalizer struct {
	sniffer  Sniffer
	bearings *BearingTable
	logger   *slog.Logger
}

// NewNormalizer builds a Normalizer with its own bearing table.
func NewNormalizer(cfg config.TrackConfig, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		sniffer: Sniffer{
			MaxSkipRows: cfg.MaxSkipRows,
			SampleRows:  cfg.SampleRows,
			MinColumns:  cfg.MinColumns,
		},
		bearings: NewBearingTable(0.01),
		logger:   logger,
	}
}

// Read loads a track file into a Table. GPX and .nmea files are chosen by
// extension; any other file is read as NMEA when it holds RMC or GGA sentences
// and as a delimited table otherwise.
func (n *Normalizer) Read(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpx":
		return readGPX(path)
	case ".nmea":
		return readNMEA(path)
	}
	isNMEA, err := looksNMEA(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	if isNMEA {
		return readNMEA(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()
	t, err := n.sniffer.Sniff(f)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	if t.Skipped > 0 {
		n.logger.Debug("track header located", "path", path, "skipped", t.Skipped, "delimiter", string(t.Delimiter))
	}
	return t, nil
}

// Inspect reports the column names and distinct dates of a track file.
func (n *Normalizer) Inspect(path string, timeColumn string) ([]string, []string, error) {
	t, err := n.Read(path)
	if err != nil {
		return nil, nil, err
	}
	var dates []string
	if c := t.Index(timeColumn); c >= 0 {
		dates = distinctDates(t, c)
	}
	return t.Columns, dates, nil
}

// Normalize reads path and normalizes it with cols. date selects rows when the
// track spans several dates.
func (n *Normalizer) Normalize(path string, cols config.Columns, date string) (*Track, Stats, error) {
	t, err := n.Read(path)
	if err != nil {
		return nil, Stats{}, err
	}
	return n.FromTable(t, cols, date)
}

func resolve(t *Table, field, name string, required bool) (int, error) {
	if config.Absent(name) {
		if required {
			return -1, config.Errorf("columns."+field, "%s column is required", field)
		}
		return -1, nil
	}
	idx := t.Index(strings.TrimSpace(name))
	if idx < 0 {
		return -1, config.Errorf("columns."+field, "column %q not in track (have %s)", name, strings.Join(t.Columns, ", "))
	}
	return idx, nil
}

type rawPoint struct {
	time     float64
	date     string
	lat, lon float64
	depth    *float64
	heading  *float64
}

// FromTable normalizes an already-read table.
func (n *Normalizer) FromTable(t *Table, cols config.Columns, date string) (*Track, Stats, error) {
	var st Stats
	st.Rows = len(t.Rows)

	ti, err := resolve(t, "time", cols.Time, true)
	if err != nil {
		return nil, st, err
	}
	lai, err := resolve(t, "lat", cols.Lat, true)
	if err != nil {
		return nil, st, err
	}
	loi, err := resolve(t, "lon", cols.Lon, true)
	if err != nil {
		return nil, st, err
	}
	di, err := resolve(t, "depth", cols.Depth, false)
	if err != nil {
		return nil, st, err
	}
	hi, err := resolve(t, "heading", cols.Heading, false)
	if err != nil {
		return nil, st, err
	}

	dates := distinctDates(t, ti)
	date = strings.TrimSpace(date)
	switch {
	case len(dates) > 1 && date == "":
		return nil, st, config.Errorf("date", "track spans several dates, choose one of %s", strings.Join(dates, ", "))
	case date != "" && len(dates) > 0 && !contains(dates, date):
		return nil, st, config.Errorf("date", "date %s not in track (have %s)", date, strings.Join(dates, ", "))
	case date != "" && len(dates) == 0:
		st.warn(n.logger, "track has no calendar dates, ignoring date selection", "date", date)
		date = ""
	}

	raw := make([]rawPoint, 0, len(t.Rows))
	for r := range t.Rows {
		d, clock := SplitTimestamp(t.Cell(r, ti))
		if date != "" && d != date {
			st.Dropped++
			continue
		}
		sec, err := ParseClock(clock)
		if err != nil {
			st.Dropped++
			continue
		}
		lat, err1 := strconv.ParseFloat(t.Cell(r, lai), 64)
		lon, err2 := strconv.ParseFloat(t.Cell(r, loi), 64)
		if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lon) {
			st.Dropped++
			continue
		}
		raw = append(raw, rawPoint{
			time:    sec,
			date:    d,
			lat:     lat,
			lon:     lon,
			depth:   optional(t, r, di),
			heading: optional(t, r, hi),
		})
	}
	if st.Dropped > 0 {
		n.logger.Info("track rows dropped", "count", st.Dropped)
	}

	sort.SliceStable(raw, func(a, b int) bool { return raw[a].time < raw[b].time })
	uniq := raw[:0]
	for _, p := range raw {
		if len(uniq) > 0 && p.time == uniq[len(uniq)-1].time {
			st.Duplicates++
			continue
		}
		uniq = append(uniq, p)
	}
	raw = uniq
	if len(raw) == 0 {
		return nil, st, &ParseError{Reason: "no rows with a usable time, latitude and longitude"}
	}

	out := &Track{Points: make([]Point, len(raw)), Dates: dates}
	times := make([]float64, len(raw))
	for i, p := range raw {
		out.Points[i] = Point{Time: p.time, Date: p.date, Lat: p.lat, Lon: p.lon}
		times[i] = p.time
	}

	if di >= 0 {
		depths := make([]*float64, len(raw))
		for i, p := range raw {
			depths[i] = p.depth
		}
		filled, nfilled, ok := fillGaps(times, depths)
		if ok {
			out.HasDepth = true
			st.DepthFilled = nfilled
			for i := range out.Points {
				out.Points[i].Depth = filled[i]
			}
		} else {
			st.warn(n.logger, "depth column has no numeric values, treating depth as absent", "column", cols.Depth)
		}
	}

	if hi >= 0 {
		headings := make([]*float64, len(raw))
		for i, p := range raw {
			headings[i] = p.heading
		}
		filled, nfilled, ok := fillGaps(times, headings)
		if ok {
			out.HasHeading = true
			st.HeadingFilled = nfilled
			for i := range out.Points {
				out.Points[i].Heading = filled[i]
			}
		} else {
			st.warn(n.logger, "heading column has no numeric values, synthesizing headings", "column", cols.Heading)
		}
	}
	if !out.HasHeading {
		st.HeadingSynthesized = true
		if len(out.Points) < 2 {
			st.warn(n.logger, "single-point track, heading set to 0")
		}
		n.synthesizeHeadings(out.Points)
	}

	return out, st, nil
}

// synthesizeHeadings assigns point i the bearing towards point i+1 for the interior
// points and copies the neighbours' values onto both ends.
func (n *Normalizer) synthesizeHeadings(pts []Point) {
	switch len(pts) {
	case 0:
		return
	case 1:
		pts[0].Heading = 0
		return
	case 2:
		h := n.bearings.Bearing(pts[0].Lat, pts[0].Lon, pts[1].Lat, pts[1].Lon)
		pts[0].Heading, pts[1].Heading = h, h
		return
	}
	last := len(pts) - 1
	for i := 1; i < last; i++ {
		pts[i].Heading = n.bearings.Bearing(pts[i].Lat, pts[i].Lon, pts[i+1].Lat, pts[i+1].Lon)
	}
	pts[0].Heading = pts[1].Heading
	pts[last].Heading = pts[last-1].Heading
}

// fillGaps edge-extends the first and last known values and linearly interpolates
// interior gaps along xs. ok is false when no value is known.
func fillGaps(xs []float64, vals []*float64) ([]float64, int, bool) {
	var kx, ky []float64
	for i, v := range vals {
		if v != nil {
			kx = append(kx, xs[i])
			ky = append(ky, *v)
		}
	}
	if len(kx) == 0 {
		return nil, 0, false
	}
	ip, err := NewInterpolant(kx, ky, false)
	if err != nil {
		return nil, 0, false
	}
	out := make([]float64, len(vals))
	filled := 0
	for i, v := range vals {
		if v != nil {
			out[i] = *v
			continue
		}
		out[i] = ip.At(xs[i])
		filled++
	}
	return out, filled, true
}

func optional(t *Table, r, c int) *float64 {
	if c < 0 {
		return nil
	}
	v, err := strconv.ParseFloat(t.Cell(r, c), 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return &v
}

func distinctDates(t *Table, c int) []string {
	seen := make(map[string]struct{})
	var out []string
	for r := range t.Rows {
		d, _ := SplitTimestamp(t.Cell(r, c))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// String is a one-line summary for logs.
func (s Stats) String() string {
	return fmt.Sprintf("rows=%d dropped=%d duplicates=%d depth_filled=%d heading_filled=%d synthesized=%t",
		s.Rows, s.Dropped, s.Duplicates, s.DepthFilled, s.HeadingFilled, s.HeadingSynthesized)
}
