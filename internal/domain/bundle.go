package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoBundle is returned by operations that need an aggregated bundle.
var ErrNoBundle = errors.New("no bundle has been aggregated")

// SortField names the per-step field that establishes chronological order.
type SortField string

const (
	SortByIdx      SortField = "idx"
	SortByUnixTime SortField = "unixtime"
)

// Cube is a time-leading (time, lat, lon) array in flat row-major storage.
type Cube struct {
	Steps int       `cbor:"steps" json:"steps"`
	Rows  int       `cbor:"rows" json:"rows"`
	Cols  int       `cbor:"cols" json:"cols"`
	Data  []float64 `cbor:"data" json:"-"`
}

// NewCube creates an empty cube whose slices are rows×cols.
func NewCube(rows, cols int) *Cube {
	return &Cube{Rows: rows, Cols: cols}
}

// Append adds steps time slices held contiguously in slab.
func (c *Cube) Append(slab []float64, steps int) error {
	if want := steps * c.Rows * c.Cols; len(slab) != want {
		return fmt.Errorf("slab has %d values, expected %d (%d×%d×%d)", len(slab), want, steps, c.Rows, c.Cols)
	}
	c.Data = append(c.Data, slab...)
	c.Steps += steps
	return nil
}

// Slice returns the 2-D slice at time step t, sharing storage with the cube.
func (c *Cube) Slice(t int) []float64 {
	n := c.Rows * c.Cols
	return c.Data[t*n : (t+1)*n]
}

// At returns the value at (t, i, j).
func (c *Cube) At(t, i, j int) float64 {
	return c.Data[(t*c.Rows+i)*c.Cols+j]
}

// Permute reorders the time axis so that new step k is old step perm[k].
func (c *Cube) Permute(perm []int) {
	n := c.Rows * c.Cols
	out := make([]float64, len(c.Data))
	for k, src := range perm {
		copy(out[k*n:(k+1)*n], c.Data[src*n:(src+1)*n])
	}
	c.Data = out
}

// Bundle is the aligned set of arrays and per-step calendar metadata
// produced by a compile.
type Bundle struct {
	Dataset       string           `cbor:"dataset"`
	SortKey       SortField        `cbor:"sort_key"`
	Lon           []float64        `cbor:"lon"`
	Lat           []float64        `cbor:"lat"`
	VariableOrder []string         `cbor:"variable_order"`
	Variables     map[string]*Cube `cbor:"variables"`
	Year          []int            `cbor:"year"`
	Month         []int            `cbor:"month"`
	Idx           []int            `cbor:"idx"`
	UnixTime      []int64          `cbor:"unixtime,omitempty"`
}

// NewBundle creates an empty bundle for a dataset.
func NewBundle(dataset string, key SortField) *Bundle {
	return &Bundle{
		Dataset:   dataset,
		SortKey:   key,
		Variables: make(map[string]*Cube),
	}
}

// MonthKey returns the year*100+month sort key for a date.
func MonthKey(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}

// AppendStep records calendar metadata for one time step.
func (b *Bundle) AppendStep(date time.Time) {
	b.Year = append(b.Year, date.Year())
	b.Month = append(b.Month, int(date.Month()))
	b.Idx = append(b.Idx, MonthKey(date))
}

// SetVariable stores a cube, keeping first-insertion order.
func (b *Bundle) SetVariable(name string, c *Cube) {
	if _, ok := b.Variables[name]; !ok {
		b.VariableOrder = append(b.VariableOrder, name)
	}
	b.Variables[name] = c
}

// Steps returns the number of time steps held by the bundle.
func (b *Bundle) Steps() int {
	return len(b.Year)
}

// Validate checks that every time-indexed field shares one length and that
// every cube matches the coordinate extent.
func (b *Bundle) Validate() error {
	n := b.Steps()
	if len(b.Month) != n || len(b.Idx) != n {
		return fmt.Errorf("calendar fields out of step: year=%d month=%d idx=%d", n, len(b.Month), len(b.Idx))
	}
	if b.SortKey == SortByUnixTime && len(b.UnixTime) != n {
		return fmt.Errorf("unixtime has %d entries, expected %d", len(b.UnixTime), n)
	}
	for _, name := range b.VariableOrder {
		c := b.Variables[name]
		if c == nil {
			return fmt.Errorf("variable %s listed but missing", name)
		}
		if c.Steps != n {
			return fmt.Errorf("variable %s has %d steps, expected %d", name, c.Steps, n)
		}
		if c.Rows != len(b.Lat) || c.Cols != len(b.Lon) {
			return fmt.Errorf("variable %s is %d×%d, coordinates are %d×%d", name, c.Rows, c.Cols, len(b.Lat), len(b.Lon))
		}
	}
	return nil
}

func (b *Bundle) sortKeys() []int64 {
	keys := make([]int64, b.Steps())
	if b.SortKey == SortByUnixTime {
		copy(keys, b.UnixTime)
		return keys
	}
	for i, v := range b.Idx {
		keys[i] = int64(v)
	}
	return keys
}

// SortPermutation returns the stable argsort of the bundle's sort key.
func (b *Bundle) SortPermutation() []int {
	keys := b.sortKeys()
	perm := make([]int, len(keys))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return keys[perm[i]] < keys[perm[j]] })
	return perm
}

// SortChronologically applies the sort-key permutation to every
// time-indexed field. Lon and Lat are static and left untouched.
func (b *Bundle) SortChronologically() {
	perm := b.SortPermutation()
	b.Year = permuteInts(b.Year, perm)
	b.Month = permuteInts(b.Month, perm)
	b.Idx = permuteInts(b.Idx, perm)
	if len(b.UnixTime) > 0 {
		out := make([]int64, len(perm))
		for k, src := range perm {
			out[k] = b.UnixTime[src]
		}
		b.UnixTime = out
	}
	for _, name := range b.VariableOrder {
		b.Variables[name].Permute(perm)
	}
}

func permuteInts(in []int, perm []int) []int {
	out := make([]int, len(perm))
	for k, src := range perm {
		out[k] = in[src]
	}
	return out
}
