package georef

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/twpayne/go-kml/v2"
	"go.uber.org/multierr"
)

const (
	kmlDocName     = "doc.kml"
	archiveFileDir = "files"
)

func quadCoordinates(q [4]LonLat) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(q))
	for i, c := range q {
		coords[i] = kml.Coordinate{Lon: c.Lon, Lat: c.Lat}
	}
	return coords
}

// WriteKML encodes the placemarks and ground overlays of overlays as a KML
// document. Image references are relative to the archive root.
func WriteKML(w io.Writer, name string, overlays []GroundOverlay) error {
	placemarks := make([]kml.Element, 0, len(overlays))
	grounds := make([]kml.Element, 0, len(overlays))
	for _, o := range overlays {
		png := fmt.Sprintf("%d.png", o.MosaicIndex)
		jpg := fmt.Sprintf("%s/%d.jpg", archiveFileDir, o.MosaicIndex)
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(strconv.Itoa(o.MosaicIndex)),
			kml.Description(fmt.Sprintf(
				`<img src="%s" alt="picture" width="%d" height="%d" align="left" />`,
				jpg, o.RectifiedWidth, o.RectifiedHeight)),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: o.CenterLon, Lat: o.CenterLat})),
		))
		grounds = append(grounds, kml.GroundOverlay(
			kml.Name(png),
			kml.Description(fmt.Sprintf("%s\nheading: %s", png, strconv.FormatFloat(o.Heading, 'f', -1, 64))),
			kml.Icon(kml.Href(archiveFileDir+"/"+png)),
			kml.GxLatLonQuad(kml.Coordinates(quadCoordinates(o.Quad)...)),
		))
	}
	children := append([]kml.Element{kml.Name(name)}, placemarks...)
	children = append(children, grounds...)
	if err := kml.GxKML(kml.Document(children...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("encode kml: %w", err)
	}
	return nil
}

// ExportBatch accumulates overlays and writes them as numbered KMZ archives
// holding at most limit overlays each.
type ExportBatch struct {
	dir      string
	limit    int
	pending  []GroundOverlay
	next     int
	archives []string
}

// NewExportBatch writes archives into dir. limit < 1 means 100.
func NewExportBatch(dir string, limit int) *ExportBatch {
	if limit < 1 {
		limit = 100
	}
	return &ExportBatch{dir: dir, limit: limit}
}

// Add queues o and flushes when the batch is full.
func (b *ExportBatch) Add(o GroundOverlay) error {
	b.pending = append(b.pending, o)
	if len(b.pending) >= b.limit {
		return b.Flush()
	}
	return nil
}

// Pending is the number of overlays not yet written.
func (b *ExportBatch) Pending() int { return len(b.pending) }

// Archives lists the archives written so far.
func (b *ExportBatch) Archives() []string { return append([]string(nil), b.archives...) }

// Flush writes the pending overlays, if any, to the next archive.
func (b *ExportBatch) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	path := filepath.Join(b.dir, fmt.Sprintf("%d.kmz", b.next))
	if err := writeKMZ(path, strconv.Itoa(b.next), b.pending); err != nil {
		return err
	}
	b.archives = append(b.archives, path)
	b.next++
	b.pending = b.pending[:0]
	return nil
}

func writeKMZ(path, name string, overlays []GroundOverlay) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	zw := zip.NewWriter(f)
	defer func() {
		err = multierr.Combine(err, zw.Close(), f.Close())
		if err != nil {
			os.Remove(path)
		}
	}()

	doc, err := zw.Create(kmlDocName)
	if err != nil {
		return err
	}
	if err := WriteKML(doc, name, overlays); err != nil {
		return err
	}
	for _, o := range overlays {
		for _, src := range []string{o.MosaicPath, o.RectifiedPath} {
			if src == "" {
				continue
			}
			if err := addFile(zw, archiveFileDir+"/"+embeddedName(o.MosaicIndex, src), src); err != nil {
				return err
			}
		}
	}
	return nil
}

func embeddedName(index int, src string) string {
	return strconv.Itoa(index) + strings.ToLower(filepath.Ext(src))
}

func addFile(zw *zip.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("embed %s: %w", src, err)
	}
	return nil
}
