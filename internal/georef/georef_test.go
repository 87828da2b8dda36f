package georef

import (
	"context"
	"encoding/json"
	"html"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zip"
	"github.com/peterstace/simplefeatures/geom"

	"reefstitch/internal/config"
	"reefstitch/internal/logging"
	"reefstitch/internal/mosaic"
	"reefstitch/internal/progress"
	"reefstitch/internal/track"
)

const eps = 1e-9

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestSyncClock(t *testing.T) {
	cases := []struct {
		sync      string
		utc, ref  int
		want      float64
		expectErr bool
	}{
		{"09:00:05", 8, 8, 32405, false},
		{"10:00:00", 9, 8, 39600, false},
		{"01:00:00", 0, 8, 61200, false},
		{"soon", 8, 8, 0, true},
	}
	for _, tc := range cases {
		got, err := SyncClock(tc.sync, tc.utc, tc.ref)
		if tc.expectErr {
			if !config.IsConfigError(err) {
				t.Fatalf("SyncClock(%q): expected config error, got %v", tc.sync, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("SyncClock(%q, %d) = %v, %v; want %v", tc.sync, tc.utc, got, err, tc.want)
		}
	}
}

func TestSynchronizeDropsEarlierFixes(t *testing.T) {
	pts := []track.Point{{Time: 10}, {Time: 11}, {Time: 12}, {Time: 13}}
	kept, dropped := Synchronize(pts, 12)
	if dropped != 2 || len(kept) != 2 || kept[0].Time != 12 {
		t.Fatalf("kept %v, dropped %d", kept, dropped)
	}
}

func TestResampleOneSecondGrid(t *testing.T) {
	pts := []track.Point{
		{Time: 100, Lon: 0, Lat: 0, Heading: 10, Depth: 1},
		{Time: 102, Lon: 2, Lat: 4, Heading: 30, Depth: 3},
		{Time: 104.5, Lon: 4.5, Lat: 9, Heading: 30, Depth: 3},
	}
	s, err := Resample(pts, true)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if s.Len() != 5 || s.Start != 100 {
		t.Fatalf("len = %d start = %v", s.Len(), s.Start)
	}
	if !near(s.Lon[1], 1, eps) || !near(s.Lat[3], 6, eps) || !near(s.Heading[1], 20, eps) || !near(s.Depth[1], 2, eps) {
		t.Fatalf("unexpected samples: %+v", s)
	}

	noDepth, err := Resample(pts, false)
	if err != nil {
		t.Fatal(err)
	}
	if noDepth.Depth != nil {
		t.Fatalf("depth resampled for a depthless track")
	}
}

func TestCornersNorthBranch(t *testing.T) {
	start := LonLat{Lon: 120, Lat: 0}
	end := LonLat{Lon: 120, Lat: 0.001}
	fp := Corners(start, end, 0, 0, 0, 10, 6378137)
	if fp.Branch != BranchNorth {
		t.Fatalf("branch = %s", fp.Branch)
	}
	dlon := 5 / 6378137.0 * 180 / math.Pi
	tl, tr, br, bl := fp.Quad[0], fp.Quad[1], fp.Quad[2], fp.Quad[3]
	if !near(tl.Lon, 120-dlon, 1e-12) || !near(tr.Lon, 120+dlon, 1e-12) {
		t.Fatalf("start corners %v %v", tl, tr)
	}
	if !near(br.Lon, 120+dlon, 1e-12) || !near(bl.Lon, 120-dlon, 1e-12) {
		t.Fatalf("end corners %v %v", br, bl)
	}
	if !near(tl.Lat, 0, 1e-12) || !near(bl.Lat, 0.001, 1e-12) {
		t.Fatalf("latitudes moved: %v", fp.Quad)
	}
}

func TestCornersSouthBranch(t *testing.T) {
	start := LonLat{Lon: 120, Lat: 0.001}
	end := LonLat{Lon: 120, Lat: 0}
	fp := Corners(start, end, 180, 180, 180, 10, 6378137)
	if fp.Branch != BranchSouth {
		t.Fatalf("branch = %s", fp.Branch)
	}
	// [tr, tl, bl, br]: eastern start corner first
	if !(fp.Quad[0].Lon > fp.Quad[1].Lon) || !(fp.Quad[3].Lon > fp.Quad[2].Lon) {
		t.Fatalf("south quad order wrong: %v", fp.Quad)
	}
	if !near(fp.Quad[0].Lat, 0.001, 1e-12) || !near(fp.Quad[2].Lat, 0, 1e-12) {
		t.Fatalf("start/end swapped: %v", fp.Quad)
	}
}

func TestCornersDiagonalHeadings(t *testing.T) {
	const r = 6378137.0
	deg := func(m float64) float64 { return m / r * 180 / math.Pi }
	d45 := deg(5 * math.Sqrt2 / 2)
	cx := deg(5 * math.Abs(math.Cos(200*math.Pi/180)))
	sy := deg(5 * math.Abs(math.Sin(200*math.Pi/180)))

	cases := []struct {
		heading    float64
		start, end LonLat
		branch     string
		want       [4]LonLat
	}{
		{
			heading: 45,
			start:   LonLat{Lon: 120, Lat: 0},
			end:     LonLat{Lon: 120, Lat: 0.001},
			branch:  BranchNorth,
			// [tl, tr, br, bl]
			want: [4]LonLat{
				{120 - d45, d45},
				{120 + d45, -d45},
				{120 + d45, 0.001 - d45},
				{120 - d45, 0.001 + d45},
			},
		},
		{
			heading: 200,
			start:   LonLat{Lon: 120, Lat: 0.001},
			end:     LonLat{Lon: 120, Lat: 0},
			branch:  BranchSouth,
			// [tr, tl, bl, br]
			want: [4]LonLat{
				{120 + cx, 0.001 - sy},
				{120 - cx, 0.001 + sy},
				{120 - cx, sy},
				{120 + cx, -sy},
			},
		},
	}
	for _, tc := range cases {
		fp := Corners(tc.start, tc.end, tc.heading, tc.heading, tc.heading, 10, r)
		if fp.Branch != tc.branch {
			t.Fatalf("heading %v: branch = %s, want %s", tc.heading, fp.Branch, tc.branch)
		}
		for i, c := range fp.Quad {
			if !near(c.Lon, tc.want[i].Lon, 1e-10) || !near(c.Lat, tc.want[i].Lat, 1e-10) {
				t.Fatalf("heading %v: corner %d = %v, want %v (quad %v)", tc.heading, i, c, tc.want[i], fp.Quad)
			}
		}
	}
}

func TestSyncWarnsWhenNothingDropped(t *testing.T) {
	g := NewGeoreferencer(config.Default().Georef, logging.Discard())

	var res Result
	pts, err := g.Sync(eastboundTrack(5), "09:00:00", 8, &res)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Dropped != 0 || len(pts) != 5 {
		t.Fatalf("dropped = %d, kept = %d", res.Dropped, len(pts))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "no GPS fixes precede") {
		t.Fatalf("warnings = %v", res.Warnings)
	}

	res = Result{}
	pts, err = g.Sync(eastboundTrack(5), "09:00:02", 8, &res)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Dropped != 2 || len(pts) != 3 || len(res.Warnings) != 0 {
		t.Fatalf("dropped = %d, kept = %d, warnings = %v", res.Dropped, len(pts), res.Warnings)
	}
}

func TestNorthHalf(t *testing.T) {
	for h, want := range map[float64]bool{0: true, 45: true, 90: true, 91: false, 180: false, 269.9: false, 270: true, 359: true} {
		if NorthHalf(h) != want {
			t.Fatalf("NorthHalf(%v) = %v", h, !want)
		}
	}
}

func TestFootprintGeometryIsPolygon(t *testing.T) {
	fp := Corners(LonLat{Lon: 1, Lat: 1}, LonLat{Lon: 1.001, Lat: 1}, 90, 90, 90, 4, 6378137)
	o := GroundOverlay{MosaicIndex: 3, Quad: fp.Quad}
	if g := o.Geometry(); g.Type() != geom.TypePolygon {
		t.Fatalf("geometry type = %v", g.Type())
	}
}

func TestExportBatchSplitsArchives(t *testing.T) {
	dir := t.TempDir()
	b := NewExportBatch(dir, 100)
	for i := 0; i < 250; i++ {
		o := GroundOverlay{MosaicIndex: i, Quad: [4]LonLat{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}
		if err := b.Add(o); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if b.Pending() != 50 {
		t.Fatalf("pending = %d", b.Pending())
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	archives := b.Archives()
	if len(archives) != 3 || filepath.Base(archives[2]) != "2.kmz" {
		t.Fatalf("archives = %v", archives)
	}
	counts := []int{100, 100, 50}
	for i, a := range archives {
		kml := readArchive(t, a)[kmlDocName]
		if n := strings.Count(kml, "<GroundOverlay>"); n != counts[i] {
			t.Fatalf("%s has %d overlays, want %d", a, n, counts[i])
		}
	}
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer zr.Close()
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		out[f.Name] = string(data)
	}
	return out
}

func TestWriteKMLLayout(t *testing.T) {
	var sb strings.Builder
	o := GroundOverlay{
		MosaicIndex: 7, CenterLon: 121.5, CenterLat: 24.25, Heading: 45.5,
		RectifiedWidth: 200, RectifiedHeight: 300,
		Quad: [4]LonLat{{1, 2}, {3, 4}, {5, 6}, {7, 8}},
	}
	if err := WriteKML(&sb, "0", []GroundOverlay{o}); err != nil {
		t.Fatal(err)
	}
	out := html.UnescapeString(sb.String())
	at := strings.Index(out, "<gx:LatLonQuad>")
	if at < 0 {
		t.Fatalf("no gx:LatLonQuad:\n%s", out)
	}
	quad := out[at:]
	if !strings.Contains(quad, "1,2") || !strings.Contains(quad, "7,8") {
		t.Fatalf("quad corners missing:\n%s", quad)
	}
	for _, want := range []string{
		`xmlns:gx="http://www.google.com/kml/ext/2.2"`,
		"<name>7</name>",
		"<coordinates>121.5,24.25</coordinates>",
		`<img src="files/7.jpg" alt="picture" width="200" height="300" align="left" />`,
		"<name>7.png</name>",
		"<href>files/7.png</href>",
		"heading: 45.5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("kml missing %q:\n%s", want, out)
		}
	}
}

func TestRotateTurnsClockwise(t *testing.T) {
	img := imaging.New(10, 4, color.NRGBA{R: 200, A: 255})
	rot := Rotate(img, 90)
	if b := rot.Bounds(); b.Dx() != 4 || b.Dy() != 10 {
		t.Fatalf("rotated bounds %v", b)
	}
}

func writeMosaic(t *testing.T, dir string, index int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 24))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i-3], img.Pix[i-1], img.Pix[i] = 30, 160, 255
	}
	if err := imaging.Save(img, mosaic.Path(dir, index)); err != nil {
		t.Fatal(err)
	}
}

// eastboundTrack runs due east from 09:00:00 GPS time, one fix per second.
func eastboundTrack(n int) *track.Track {
	tr := &track.Track{HasDepth: true, HasHeading: true}
	for k := 0; k < n; k++ {
		tr.Points = append(tr.Points, track.Point{
			Time:    9*3600 + float64(k),
			Date:    "2021-06-01",
			Lat:     22.5,
			Lon:     120 + float64(k)*1e-5,
			Depth:   2,
			Heading: 90,
		})
	}
	return tr
}

func TestRunGeoreferencesMosaics(t *testing.T) {
	root := t.TempDir()
	mosaics := filepath.Join(root, "Mosaics")
	if err := os.MkdirAll(mosaics, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 1, 3} {
		writeMosaic(t, mosaics, i)
	}
	if err := mosaic.SaveMetadata(mosaics, mosaic.Metadata{WindowSeconds: 10, MosaicCount: 4}); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(root, "Georeferenced")
	req := Request{
		Track:        eastboundTrack(41),
		MosaicsDir:   mosaics,
		OutputDir:    out,
		RectifiedDir: filepath.Join(out, "Rectified Mosaics"),
		KMZDir:       filepath.Join(out, "KMZ files"),
		SyncTime:     "09:00:05",
		UTCOffset:    8,
	}
	rec := progress.NewRecorder(nil)
	g := NewGeoreferencer(config.Default().Georef, logging.Discard())
	res, err := g.Run(context.Background(), req, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 36 samples remain after sync: windows 0..2 fit, window 3 ends at sample 40.
	if res.Dropped != 5 {
		t.Fatalf("dropped = %d", res.Dropped)
	}
	if res.Complete {
		t.Fatalf("run reported complete")
	}
	if len(res.Overlays) != 2 || res.Overlays[1].MosaicIndex != 1 {
		t.Fatalf("overlays = %+v", res.Overlays)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if rec.Increments() != 3 {
		t.Fatalf("increments = %d", rec.Increments())
	}

	o := res.Overlays[0]
	if o.Branch != BranchNorth || !near(o.WidthM, 1.55948*2, 1e-9) {
		t.Fatalf("overlay 0 = %+v", o)
	}
	if !near(o.LengthM, 10.3, 0.2) {
		t.Fatalf("length = %v m", o.LengthM)
	}
	if o.Date != "2021-06-01" {
		t.Fatalf("date = %q", o.Date)
	}
	if _, err := os.Stat(o.RectifiedPath); err != nil {
		t.Fatalf("rectified image: %v", err)
	}

	if len(res.Archives) != 1 {
		t.Fatalf("archives = %v", res.Archives)
	}
	files := readArchive(t, res.Archives[0])
	for _, name := range []string{kmlDocName, "files/0.png", "files/0.jpg", "files/1.png", "files/1.jpg"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("archive lacks %s", name)
		}
	}

	data, err := os.ReadFile(res.Footprints)
	if err != nil {
		t.Fatal(err)
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("footprints = %s", data)
	}
}

func TestRunWithoutFixesAfterSync(t *testing.T) {
	mosaics := t.TempDir()
	if err := mosaic.SaveMetadata(mosaics, mosaic.Metadata{WindowSeconds: 10, MosaicCount: 1}); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	req := Request{
		Track:        eastboundTrack(5),
		MosaicsDir:   mosaics,
		OutputDir:    out,
		RectifiedDir: filepath.Join(out, "r"),
		KMZDir:       filepath.Join(out, "k"),
		SyncTime:     "10:00:00",
		UTCOffset:    8,
	}
	_, err := NewGeoreferencer(config.Default().Georef, logging.Discard()).Run(context.Background(), req, nil)
	if !config.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestWidthFallsBackWithoutDepth(t *testing.T) {
	g := NewGeoreferencer(config.Default().Georef, logging.Discard())
	s := &Series{Lon: make([]float64, 4)}
	if w, _ := g.Width(s, 0, 3); w != 5 {
		t.Fatalf("width = %v", w)
	}
	s = &Series{HasDepth: true, Depth: []float64{1, 2, 3, 100}}
	if w, d := g.Width(s, 0, 3); !near(d, 2, eps) || !near(w, 2*1.55948, eps) {
		t.Fatalf("width = %v depth = %v", w, d)
	}
}
