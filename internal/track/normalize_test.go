package track

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reefstitch/internal/config"
	"reefstitch/internal/logging"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(config.Default().Track, logging.Discard())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var basicCols = config.Columns{Time: "time", Lat: "lat", Lon: "lon", Depth: "depth", Heading: "NA"}

func TestNormalizeFillsDepthGaps(t *testing.T) {
	// scenario: depth [NaN, 2, NaN, 4, NaN] becomes [2, 2, 3, 4, 4]
	path := writeFile(t, "track.csv", strings.Join([]string{
		"time,lat,lon,depth",
		"09:00:00,10,120.000,",
		"09:00:01,10,120.001,2",
		"09:00:02,10,120.002,NaN",
		"09:00:03,10,120.003,4",
		"09:00:04,10,120.004,",
	}, "\n"))
	trk, st, err := newTestNormalizer().Normalize(path, basicCols, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []float64{2, 2, 3, 4, 4}
	for i, p := range trk.Points {
		if !near(p.Depth, want[i], 1e-9) {
			t.Fatalf("depth[%d] = %v, want %v", i, p.Depth, want[i])
		}
	}
	if !trk.HasDepth || st.DepthFilled != 3 {
		t.Fatalf("has depth %v filled %d", trk.HasDepth, st.DepthFilled)
	}
}

func TestNormalizeSynthesizesEastHeading(t *testing.T) {
	var b strings.Builder
	b.WriteString("time,lat,lon\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "09:00:%02d,10.0,%.4f\n", i, 120+float64(i)*0.0001)
	}
	path := writeFile(t, "east.csv", b.String())
	trk, st, err := newTestNormalizer().Normalize(path, config.Columns{Time: "time", Lat: "lat", Lon: "lon"}, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !st.HeadingSynthesized || trk.HasHeading {
		t.Fatalf("heading should be synthesized")
	}
	if trk.HasDepth {
		t.Fatalf("depth should be absent")
	}
	for i, p := range trk.Points {
		if !near(p.Heading, 90, 1e-6) {
			t.Fatalf("heading[%d] = %v, want 90", i, p.Heading)
		}
	}
}

func TestNormalizeHeadingEndsCopyNeighbours(t *testing.T) {
	tbl := &Table{
		Columns: []string{"time", "lat", "lon"},
		Rows: [][]string{
			{"09:00:00", "0", "0"},
			{"09:00:01", "0", "0.001"},     // east
			{"09:00:02", "0.001", "0.001"}, // north
			{"09:00:03", "0.001", "0.002"}, // east
		},
	}
	trk, _, err := newTestNormalizer().FromTable(tbl, config.Columns{Time: "time", Lat: "lat", Lon: "lon"}, "")
	if err != nil {
		t.Fatal(err)
	}
	got := []float64{trk.Points[0].Heading, trk.Points[1].Heading, trk.Points[2].Heading, trk.Points[3].Heading}
	// point 0 copies point 1 and the last point copies point 2
	want := []float64{0, 0, 90, 90}
	for i := range want {
		if !near(got[i], want[i], 1e-6) {
			t.Fatalf("headings = %v, want %v", got, want)
		}
	}
}

func TestNormalizeInterpolatesSourceHeading(t *testing.T) {
	tbl := &Table{
		Columns: []string{"time", "lat", "lon", "hdg"},
		Rows: [][]string{
			{"09:00:00", "0", "0", "10"},
			{"09:00:01", "0", "0", ""},
			{"09:00:02", "0", "0", "30"},
		},
	}
	trk, st, err := newTestNormalizer().FromTable(tbl, config.Columns{Time: "time", Lat: "lat", Lon: "lon", Heading: "hdg"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !trk.HasHeading || st.HeadingSynthesized {
		t.Fatalf("source heading should be kept")
	}
	if trk.Len() != 3 || !near(trk.Points[1].Heading, 20, 1e-9) {
		t.Fatalf("interpolated heading = %v", trk.Points[1].Heading)
	}
}

func TestNormalizeSortsAndDropsDuplicates(t *testing.T) {
	tbl := &Table{
		Columns: []string{"time", "lat", "lon"},
		Rows: [][]string{
			{"09:00:02", "2", "2"},
			{"09:00:00", "0", "0"},
			{"09:00:02", "9", "9"},
			{"bogus", "1", "1"},
			{"09:00:01", "", "1"},
			{"09:00:01", "1", "1"},
		},
	}
	trk, st, err := newTestNormalizer().FromTable(tbl, config.Columns{Time: "time", Lat: "lat", Lon: "lon"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if trk.Len() != 3 {
		t.Fatalf("points = %d", trk.Len())
	}
	for i := 1; i < trk.Len(); i++ {
		if trk.Points[i].Time <= trk.Points[i-1].Time {
			t.Fatalf("time not strictly increasing: %v", trk.Times())
		}
	}
	if trk.Points[2].Lat != 2 {
		t.Fatalf("duplicate should keep first occurrence, got lat %v", trk.Points[2].Lat)
	}
	if st.Dropped != 2 || st.Duplicates != 1 {
		t.Fatalf("stats = %s", st)
	}
}

func TestNormalizeDates(t *testing.T) {
	tbl := &Table{
		Columns: []string{"ts", "lat", "lon"},
		Rows: [][]string{
			{"2023-05-01T23:59:59Z", "0", "0"},
			{"2023-05-02T00:00:01Z", "0", "0"},
			{"2023-05-02T00:00:02Z", "0", "0"},
		},
	}
	cols := config.Columns{Time: "ts", Lat: "lat", Lon: "lon"}
	n := newTestNormalizer()

	if _, _, err := n.FromTable(tbl, cols, ""); !config.IsConfigError(err) {
		t.Fatalf("expected config error for ambiguous date, got %v", err)
	}
	if _, _, err := n.FromTable(tbl, cols, "2024-01-01"); !config.IsConfigError(err) {
		t.Fatalf("expected config error for unknown date, got %v", err)
	}
	trk, _, err := n.FromTable(tbl, cols, "2023-05-02")
	if err != nil {
		t.Fatal(err)
	}
	if trk.Len() != 2 || trk.Points[0].Time != 1 || trk.Date() != "2023-05-02" {
		t.Fatalf("date selection wrong: %+v", trk.Points)
	}
	if len(trk.Dates) != 2 {
		t.Fatalf("dates = %v", trk.Dates)
	}
}

func TestNormalizeMappingErrors(t *testing.T) {
	tbl := &Table{Columns: []string{"time", "lat", "lon"}, Rows: [][]string{{"09:00:00", "0", "0"}}}
	n := newTestNormalizer()
	cases := []config.Columns{
		{Time: "NA", Lat: "lat", Lon: "lon"},
		{Time: "time", Lat: "latitude", Lon: "lon"},
		{Time: "time", Lat: "lat", Lon: "lon", Depth: "depth_m"},
	}
	for _, cols := range cases {
		if _, _, err := n.FromTable(tbl, cols, ""); !config.IsConfigError(err) {
			t.Fatalf("%+v: expected config error, got %v", cols, err)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	path := writeFile(t, "track.csv", "time,lat,lon,depth\n09:00:00,10,120,1\n09:00:02,10.001,120.001,\n09:00:04,10.002,120.001,3\n")
	n := newTestNormalizer()
	a, _, err := n.Normalize(path, basicCols, "")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := n.Normalize(path, basicCols, "")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			t.Fatalf("point %d differs: %+v vs %+v", i, a.Points[i], b.Points[i])
		}
	}

	out := filepath.Join(t.TempDir(), "track.json")
	if err := Save(out, path, a); err != nil {
		t.Fatal(err)
	}
	c, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != a.Len() || c.Points[1] != a.Points[1] || c.HasDepth != a.HasDepth {
		t.Fatalf("round trip mismatch")
	}
}

func TestReadGPX(t *testing.T) {
	path := writeFile(t, "dive.gpx", `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg>
    <trkpt lat="10.5" lon="123.25"><ele>-2.5</ele><time>2023-05-01T09:15:00Z</time></trkpt>
    <trkpt lat="10.6" lon="123.26"><ele>-3.5</ele><time>2023-05-01T09:15:01Z</time></trkpt>
  </trkseg></trk>
</gpx>`)
	n := newTestNormalizer()
	trk, _, err := n.Normalize(path, config.Columns{Time: "time", Lat: "lat", Lon: "lon", Depth: "ele"}, "")
	if err != nil {
		t.Fatalf("Normalize gpx: %v", err)
	}
	if trk.Len() != 2 || trk.Points[0].Time != 33300 || trk.Points[1].Depth != -3.5 {
		t.Fatalf("unexpected points %+v", trk.Points)
	}
	if trk.Date() != "2023-05-01" {
		t.Fatalf("date = %q", trk.Date())
	}
}

func TestReadNMEA(t *testing.T) {
	path := writeFile(t, "dive.nmea", strings.Join([]string{
		"$GPRMC,091500.00,A,1012.3456,N,12345.6789,E,0.5,90.0,010523,,,A*6D",
		"$GPGGA,091500.00,1012.3456,N,12345.6789,E,1,08,0.9,-3.5,M,46.9,M,,*47",
		"$GPRMC,091501.00,A,1012.3456,N,12345.6800,E,0.5,90.0,010523,,,A*62",
		"$GPRMC,091502.00,V,1012.3456,N,12345.6800,E,0.5,90.0,010523,,,N*79",
		"garbage",
	}, "\n"))
	n := newTestNormalizer()
	cols, dates, err := n.Inspect(path, "time")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if strings.Join(cols, ",") != "time,lat,lon,altitude,course" {
		t.Fatalf("columns = %v", cols)
	}
	if len(dates) != 1 || dates[0] != "2023-05-01" {
		t.Fatalf("dates = %v", dates)
	}
	trk, _, err := n.Normalize(path, config.Columns{Time: "time", Lat: "lat", Lon: "lon", Heading: "course"}, "")
	if err != nil {
		t.Fatalf("Normalize nmea: %v", err)
	}
	if trk.Len() != 2 {
		t.Fatalf("points = %d", trk.Len())
	}
	if !near(trk.Points[0].Lat, 10+12.3456/60, 1e-9) || trk.Points[0].Heading != 90 {
		t.Fatalf("first fix = %+v", trk.Points[0])
	}
}

func TestReadDelimitedTxt(t *testing.T) {
	path := writeFile(t, "track.txt", "time\tlat\tlon\n09:00:00\t10.0\t120.0\n09:00:01\t10.0\t120.001\n09:00:02\t10.0\t120.002\n")
	trk, _, err := newTestNormalizer().Normalize(path, config.Columns{Time: "time", Lat: "lat", Lon: "lon"}, "")
	if err != nil {
		t.Fatalf("Normalize txt: %v", err)
	}
	if trk.Len() != 3 || trk.Points[2].Lon != 120.002 {
		t.Fatalf("points = %+v", trk.Points)
	}
}

func TestReadNMEAKeepsDaysApart(t *testing.T) {
	// the same time of day on two dates, with the day 2 GGA ahead of its RMC
	path := writeFile(t, "gps.txt", strings.Join([]string{
		"$GPRMC,100000.00,A,1012.3456,N,12345.6789,E,0.5,90.0,010523,,,A*61",
		"$GPRMC,100001.00,A,1012.3456,N,12345.6800,E,0.5,90.0,010523,,,A*6E",
		"$GPRMC,100000.00,A,1012.3500,N,12345.6900,E,0.5,90.0,020523,,,A*6F",
		"$GPGGA,100001.00,1012.3500,N,12345.7000,E,1,08,0.9,-4.0,M,46.9,M,,*4D",
		"$GPRMC,100001.00,A,1012.3500,N,12345.7000,E,0.5,90.0,020523,,,A*66",
	}, "\n"))
	n := newTestNormalizer()
	tbl, err := n.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tbl.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(tbl.Rows))
	}
	_, dates, err := n.Inspect(path, "time")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(dates, ",") != "2023-05-01,2023-05-02" {
		t.Fatalf("dates = %v", dates)
	}
	trk, _, err := n.Normalize(path, config.Columns{Time: "time", Lat: "lat", Lon: "lon", Depth: "altitude"}, "2023-05-02")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if trk.Len() != 2 || !near(trk.Points[1].Lon, 123+45.7/60, 1e-9) || trk.Points[1].Depth != -4 {
		t.Fatalf("day 2 points = %+v", trk.Points)
	}
}
