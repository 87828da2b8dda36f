package track

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// nmeaFix matches the position sentences readNMEA understands.
var nmeaFix = regexp.MustCompile(`^\$[A-Z]{2}(RMC|GGA),`)

// looksNMEA reports whether one of the first lines of path is an RMC or GGA
// sentence.
func looksNMEA(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for i := 0; i < 50 && sc.Scan(); i++ {
		if nmeaFix.MatchString(strings.TrimSpace(sc.Text())) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// readNMEA builds a table from RMC and GGA sentences. RMC supplies the date and
// course, GGA the altitude. Sentences are joined on their time of day within a
// day; a clock that runs backwards or an RMC with a new date starts the next day.
func readNMEA(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	type fixKey struct {
		day   int
		clock string
	}
	type fix struct {
		date             string
		lat, lon         string
		altitude, course string
	}
	var (
		order     []fixKey
		fixes     = make(map[fixKey]*fix)
		dates     = make(map[int]string)
		day       int
		lastClock string
	)
	get := func(clock, date string) *fix {
		if lastClock != "" && clock < lastClock {
			day++
		}
		if date != "" {
			if d, ok := dates[day]; ok && d != date {
				day++
			}
			dates[day] = date
		}
		lastClock = clock
		k := fixKey{day: day, clock: clock}
		if fx, ok := fixes[k]; ok {
			return fx
		}
		fx := &fix{}
		fixes[k] = fx
		order = append(order, k)
		return fx
	}

	sc := bufio.NewScanner(f)
	bad := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil {
			bad++
			continue
		}
		switch m := s.(type) {
		case nmea.RMC:
			if !m.Time.Valid || m.Validity != nmea.ValidRMC {
				continue
			}
			var date string
			if m.Date.Valid {
				date = fmt.Sprintf("%04d-%02d-%02d", 2000+m.Date.YY, m.Date.MM, m.Date.DD)
			}
			fx := get(m.Time.String(), date)
			fx.lat = formatFloat(m.Latitude)
			fx.lon = formatFloat(m.Longitude)
			fx.course = formatFloat(m.Course)
			fx.date = date
		case nmea.GGA:
			if !m.Time.Valid || m.FixQuality == nmea.Invalid {
				continue
			}
			fx := get(m.Time.String(), "")
			if fx.lat == "" {
				fx.lat = formatFloat(m.Latitude)
				fx.lon = formatFloat(m.Longitude)
			}
			fx.altitude = formatFloat(m.Altitude)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	if len(order) == 0 {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("no usable RMC/GGA sentences (%d unparseable lines)", bad)}
	}

	t := &Table{Columns: []string{"time", "lat", "lon", "altitude", "course"}}
	for _, k := range order {
		fx := fixes[k]
		date := fx.date
		if date == "" {
			date = dates[k.day]
		}
		ts := k.clock
		if date != "" {
			ts = date + "T" + k.clock + "Z"
		}
		t.Rows = append(t.Rows, []string{ts, fx.lat, fx.lon, fx.altitude, fx.course})
	}
	t.dropEmptyColumns()
	return t, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
