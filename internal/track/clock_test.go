package track

import "testing"

func TestSplitTimestamp(t *testing.T) {
	cases := []struct{ in, date, clock string }{
		{"2023-05-01T09:15:00Z", "2023-05-01", "09:15:00"},
		{"2023-05-01T09:15:00.250Z", "2023-05-01", "09:15:00.250"},
		{"09:15:00", "", "09:15:00"},
		{" 2023-05-01T23:59:59Z ", "2023-05-01", "23:59:59"},
		{"2023-05-01 09:15:00", "", "2023-05-01 09:15:00"},
	}
	for _, tc := range cases {
		d, c := SplitTimestamp(tc.in)
		if d != tc.date || c != tc.clock {
			t.Fatalf("SplitTimestamp(%q) = %q, %q", tc.in, d, c)
		}
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]float64{
		"00:00:00":     0,
		"09:15:00":     33300,
		"23:59:59":     86399,
		"12:00:00.500": 43200.5,
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil || got != want {
			t.Fatalf("ParseClock(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "9:15", "24:00:00", "aa:bb:cc", "10:61:00"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) accepted", bad)
		}
	}
}

func TestFormatClockWraps(t *testing.T) {
	if got := FormatClock(33300); got != "09:15:00" {
		t.Fatalf("FormatClock = %q", got)
	}
	if got := FormatClock(-3600); got != "23:00:00" {
		t.Fatalf("FormatClock(-3600) = %q", got)
	}
	if got := WrapDay(86400 + 5); got != 5 {
		t.Fatalf("WrapDay = %v", got)
	}
}
