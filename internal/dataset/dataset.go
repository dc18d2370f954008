// Package dataset defines the CDS products the compiler knows how to fetch
// and decode.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.ngs.io/climate-compiler/internal/domain"
)

// ErrUnknownDataset is returned by Lookup for unregistered names.
var ErrUnknownDataset = errors.New("unknown dataset")

// TimeVar is the time coordinate name shared by both products.
const TimeVar = "time"

// months lists every month of a year in CDS request form.
var months = []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"}

// Step is one decoded time coordinate.
type Step struct {
	Date time.Time
	Unix int64
}

// Dataset captures everything that differs between the supported products.
type Dataset interface {
	// Name is the short identifier used by the CLI and HTTP API.
	Name() string
	// Descriptor is the CDS resource name.
	Descriptor() string
	// YearRange is the inclusive span of years the product covers.
	YearRange() (minYear, maxYear int)
	// Request builds the CDS request for one year. bbox is nil when no
	// region was requested.
	Request(year int, bbox *domain.BoundingBox, now time.Time) map[string]any
	// Target names the scratch file for the counter-th download.
	Target(scratch string, counter int) string
	// Unpacks reports whether downloads are archives to expand in place.
	Unpacks() bool
	// LatName and LonName name the coordinate variables in scratch files.
	LatName() string
	LonName() string
	// SortKey is the per-step field that orders the bundle.
	SortKey() domain.SortField
	// DecodeTimes converts raw time values of one file to calendar steps.
	DecodeTimes(raw []float64, loc *time.Location) []Step
	// Variables lists the short names usually present in scratch files.
	Variables() []string
}

// Info is the public summary of a dataset.
type Info struct {
	Name       string   `json:"name"`
	Descriptor string   `json:"descriptor"`
	MinYear    int      `json:"min_year"`
	MaxYear    int      `json:"max_year"`
	SortKey    string   `json:"sort_key"`
	Variables  []string `json:"variables"`
}

var registry = map[string]Dataset{
	Era5{}.Name():  Era5{},
	Modis{}.Name(): Modis{},
}

// Lookup returns the dataset registered under name.
func Lookup(name string) (Dataset, error) {
	ds, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	return ds, nil
}

// Describe returns the summaries of every registered dataset, by name.
func Describe() []Info {
	out := make([]Info, 0, len(registry))
	for _, ds := range registry {
		lo, hi := ds.YearRange()
		out = append(out, Info{
			Name:       ds.Name(),
			Descriptor: ds.Descriptor(),
			MinYear:    lo,
			MaxYear:    hi,
			SortKey:    string(ds.SortKey()),
			Variables:  ds.Variables(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Era5 is the ERA5 single-levels monthly means reanalysis.
type Era5 struct{}

func (Era5) Name() string              { return "era5" }
func (Era5) Descriptor() string        { return "reanalysis-era5-single-levels-monthly-means" }
func (Era5) YearRange() (int, int)     { return 1978, 2022 }
func (Era5) Unpacks() bool             { return false }
func (Era5) LatName() string           { return "latitude" }
func (Era5) LonName() string           { return "longitude" }
func (Era5) SortKey() domain.SortField { return domain.SortByIdx }
func (Era5) Target(scratch string, n int) string {
	return filepath.Join(scratch, fmt.Sprintf("%d.nc", n))
}

func (Era5) Variables() []string {
	return []string{"u10", "v10", "t2m", "cvh", "cvl", "skt", "ssr", "tp", "tvh", "tvl", "swvl1"}
}

func (e Era5) Request(year int, bbox *domain.BoundingBox, _ time.Time) map[string]any {
	lo, hi := e.YearRange()
	area := domain.BoundsOrGlobal(bbox).Area()
	return map[string]any{
		"format":       "netcdf",
		"product_type": "monthly_averaged_reanalysis",
		"variable": []string{
			"10m_u_component_of_wind", "10m_v_component_of_wind", "2m_temperature",
			"high_vegetation_cover", "low_vegetation_cover", "skin_temperature",
			"surface_net_solar_radiation", "total_precipitation", "type_of_high_vegetation",
			"type_of_low_vegetation", "volumetric_soil_water_layer_1",
		},
		"year":  fmt.Sprint(domain.ClampYear(year, lo, hi)),
		"month": months,
		"time":  "00:00",
		"area":  area[:],
	}
}

// DecodeTimes reads Gregorian hours since 1900-01-01 00:00 UTC.
func (Era5) DecodeTimes(raw []float64, _ *time.Location) []Step {
	steps := make([]Step, len(raw))
	for i, h := range raw {
		d := domain.HoursSince1900(int64(h))
		steps[i] = Step{Date: d, Unix: d.Unix()}
	}
	return steps
}

// Modis is the ESA-CCI MODIS burned-area grid product.
type Modis struct{}

// ModisArchive is the fixed scratch name every MODIS download is written to.
const ModisArchive = "tmp.tar.gz"

func (Modis) Name() string              { return "modis" }
func (Modis) Descriptor() string        { return "satellite-fire-burned-area" }
func (Modis) YearRange() (int, int)     { return 2001, 2019 }
func (Modis) Unpacks() bool             { return true }
func (Modis) LatName() string           { return "lat" }
func (Modis) LonName() string           { return "lon" }
func (Modis) SortKey() domain.SortField { return domain.SortByUnixTime }
func (Modis) Target(scratch string, _ int) string {
	return filepath.Join(scratch, ModisArchive)
}

func (Modis) Variables() []string {
	return []string{"burned_area", "number_of_patches", "standard_error", "fraction_of_burnable_area", "fraction_of_observed_area"}
}

// Request ignores bbox; the product is only served globally.
func (m Modis) Request(year int, _ *domain.BoundingBox, now time.Time) map[string]any {
	lo, hi := m.YearRange()
	return map[string]any{
		"format":              "tgz",
		"origin":              "esa_cci",
		"sensor":              "modis",
		"variable":            "grid_variables",
		"version":             "5_1_1cds",
		"month":               months,
		"year":                fmt.Sprint(domain.ClampYear(year, lo, hi)),
		"nominal_day":         "01",
		"anon_user_timestamp": now.Format(time.DateTime),
	}
}

// DecodeTimes reads whole days since the Unix epoch and resolves the
// calendar date in loc.
func (Modis) DecodeTimes(raw []float64, loc *time.Location) []Step {
	steps := make([]Step, len(raw))
	for i, d := range raw {
		sec := domain.DayCountToUnix(int64(d))
		steps[i] = Step{Date: domain.UnixToDate(sec, loc), Unix: sec}
	}
	return steps
}
