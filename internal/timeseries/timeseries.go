// Package timeseries orders scene frames by the acquisition time encoded in
// their file names.
package timeseries

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"sar-timelapse/internal/common"
)

// Satellite id extraction modes.
const (
	SatellitePrefix = "prefix"
	SatelliteFixed  = "fixed"
)

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

// Profile describes where acquisition date, time and satellite id sit in a
// file name. The defaults match Sentinel-1 product names such as
// S1A_IW_GRDH_1SDV_20210305T170409_....
type Profile struct {
	DateOffset int `yaml:"date_offset" json:"date_offset"`

	// TimeOffset < 0 means the names carry no time of day.
	TimeOffset int `yaml:"time_offset" json:"time_offset"`

	SatelliteMode   string `yaml:"satellite_mode" json:"satellite_mode"`
	SatelliteOffset int    `yaml:"satellite_offset" json:"satellite_offset"`
	SatelliteLength int    `yaml:"satellite_length" json:"satellite_length"`

	// DropUnparsable removes frames whose name does not match instead of
	// sorting them first.
	DropUnparsable bool `yaml:"drop_unparsable" json:"drop_unparsable"`
}

// DefaultProfile returns the Sentinel-1 layout.
func DefaultProfile() Profile {
	return Profile{
		DateOffset:      17,
		TimeOffset:      26,
		SatelliteMode:   SatellitePrefix,
		SatelliteLength: 3,
	}
}

// Validate checks offsets and mode.
func (p Profile) Validate() error {
	if p.DateOffset < 0 {
		return fmt.Errorf("date offset must be >= 0, got %d", p.DateOffset)
	}
	switch p.SatelliteMode {
	case SatellitePrefix, "":
	case SatelliteFixed:
		if p.SatelliteOffset < 0 || p.SatelliteLength <= 0 {
			return fmt.Errorf("fixed satellite id needs offset >= 0 and length > 0")
		}
	default:
		return fmt.Errorf("unknown satellite mode %q", p.SatelliteMode)
	}
	return nil
}

func slice(s string, off, n int) (string, bool) {
	if off < 0 || off+n > len(s) {
		return "", false
	}
	return s[off : off+n], true
}

// ParseTime extracts the acquisition time from a base name.
func (p Profile) ParseTime(name string) (time.Time, error) {
	ds, ok := slice(name, p.DateOffset, len(dateLayout))
	if !ok {
		return time.Time{}, fmt.Errorf("%q is too short for a date at offset %d", name, p.DateOffset)
	}
	if p.TimeOffset < 0 {
		t, err := time.Parse(dateLayout, ds)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q: bad date %q", name, ds)
		}
		return t, nil
	}
	ts, ok := slice(name, p.TimeOffset, len(timeLayout))
	if !ok {
		return time.Time{}, fmt.Errorf("%q is too short for a time at offset %d", name, p.TimeOffset)
	}
	t, err := time.Parse(dateLayout+timeLayout, ds+ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: bad timestamp %q %q", name, ds, ts)
	}
	return t, nil
}

// Satellite extracts the satellite id from a base name.
func (p Profile) Satellite(name string) string {
	if p.SatelliteMode == SatelliteFixed {
		if s, ok := slice(name, p.SatelliteOffset, p.SatelliteLength); ok {
			return s
		}
	}
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	n := p.SatelliteLength
	if n <= 0 {
		n = 3
	}
	if len(name) >= n {
		return name[:n]
	}
	return "SAT"
}

// Frame is one timestamped frame source.
type Frame struct {
	Path      string
	Name      string
	Time      time.Time
	Satellite string
	Parsed    bool
}

// Date returns the acquisition date without time of day.
func (f Frame) Date() string { return common.FormatISO8601(f.Time) }

// Label is the overlay text "<satellite> dd.mm.yyyy HH:MM:SS".
func (f Frame) Label() string {
	return f.Satellite + " " + common.FormatOverlay(f.Time)
}

// Parse builds a Frame for path. Names that do not match the profile get the
// zero time and Parsed=false.
func (p Profile) Parse(path string) Frame {
	name := filepath.Base(path)
	f := Frame{Path: path, Name: name, Satellite: p.Satellite(name)}
	t, err := p.ParseTime(name)
	if err != nil {
		return f
	}
	f.Time = t
	f.Parsed = true
	return f
}

// Collect parses, sorts and warns about every path. Unparsable names are
// kept at the front unless the profile drops them.
func (p Profile) Collect(paths []string) ([]Frame, []string) {
	var warnings []string
	frames := make([]Frame, 0, len(paths))
	for _, path := range paths {
		f := p.Parse(path)
		if !f.Parsed {
			action := "sorted first"
			if p.DropUnparsable {
				action = "dropped"
			}
			msg := fmt.Sprintf("cannot parse acquisition time from %s; %s", f.Name, action)
			log.Printf("[Timeseries] Warning: %s", msg)
			warnings = append(warnings, msg)
			if p.DropUnparsable {
				continue
			}
		}
		frames = append(frames, f)
	}
	Sort(frames)
	return frames, warnings
}

// Sort orders frames by acquisition time, ties broken by name.
func Sort(frames []Frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		if !frames[i].Time.Equal(frames[j].Time) {
			return frames[i].Time.Before(frames[j].Time)
		}
		return frames[i].Name < frames[j].Name
	})
}

// FilterDates keeps frames whose date lies in [start, end]. A zero bound is
// open. Time of day is ignored.
func FilterDates(frames []Frame, start, end time.Time) []Frame {
	return lo.Filter(frames, func(f Frame, _ int) bool {
		if !start.IsZero() && !common.SameOrAfterDate(f.Time, start) {
			return false
		}
		if !end.IsZero() && !common.SameOrBeforeDate(f.Time, end) {
			return false
		}
		return true
	})
}

// Paths returns the frame paths in order.
func Paths(frames []Frame) []string {
	return lo.Map(frames, func(f Frame, _ int) string { return f.Path })
}

// Ordered reports whether frames are non-decreasing in time.
func Ordered(frames []Frame) bool {
	for i := 1; i < len(frames); i++ {
		if frames[i].Time.Before(frames[i-1].Time) {
			return false
		}
	}
	return true
}
