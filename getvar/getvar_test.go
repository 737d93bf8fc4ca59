package getvar

import (
	"fmt"
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

const Tolerance = 1.e-10

func diff(a, b float64) float64 {
	return math.Abs(a-b) / math.Abs(b)
}

// fakeSource is an in-memory DataSource. Multi-index reads offset each
// time slice by 1000 times its absolute index so that tests can tell
// which records were selected.
type fakeSource struct {
	vars   map[string]*sparse.DenseArray // shapes exclude the time axis
	nt     int
	reads  map[string]int
	closed bool
}

func newFakeSource(nt int) *fakeSource {
	return &fakeSource{
		vars:  make(map[string]*sparse.DenseArray),
		nt:    nt,
		reads: make(map[string]int),
	}
}

func (f *fakeSource) Has(name string) bool {
	_, ok := f.vars[name]
	return ok
}

func (f *fakeSource) NumTimes() (int, error) { return f.nt, nil }

func (f *fakeSource) Read(name string, ts TimeSel) (*sparse.DenseArray, error) {
	if f.closed {
		return nil, fmt.Errorf("getvar: read from closed source")
	}
	base, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("getvar: variable %s is not in the dataset", name)
	}
	f.reads[name]++
	lo, hi, err := ts.resolve(f.nt)
	if err != nil {
		return nil, err
	}
	if ts.single {
		out := base.Copy()
		for i := range out.Elements {
			out.Elements[i] += 1000 * float64(lo)
		}
		return out, nil
	}
	out := sparse.ZerosDense(append([]int{hi - lo}, base.Shape...)...)
	n := len(base.Elements)
	for t := lo; t < hi; t++ {
		for i, v := range base.Elements {
			out.Elements[(t-lo)*n+i] = v + 1000*float64(t)
		}
	}
	return out, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// testColumns fills a source with a 3x2x2 (level x row x column)
// atmosphere with pressure levels 1000, 900, and 800 hPa, constant
// potential temperature, and the surface at sea level.
func testColumns(f *fakeSource) {
	nz, ny, nx := 3, 2, 2
	p := sparse.ZerosDense(nz, ny, nx)
	pb := sparse.ZerosDense(nz, ny, nx)
	t := sparse.ZerosDense(nz, ny, nx)
	qv := sparse.ZerosDense(nz, ny, nx)
	presPa := []float64{100000, 90000, 80000}
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				p.Set(1000, k, j, i)
				pb.Set(presPa[k]-1000, k, j, i)
			}
		}
	}
	ph := sparse.ZerosDense(nz+1, ny, nx)
	phb := sparse.ZerosDense(nz+1, ny, nx)
	zStag := []float64{-50, 50, 1000, 2000}
	for k := 0; k <= nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				ph.Set(100, k, j, i)
				phb.Set(zStag[k]*9.81-100, k, j, i)
			}
		}
	}
	f.vars["P"] = p
	f.vars["PB"] = pb
	f.vars["T"] = t
	f.vars["PH"] = ph
	f.vars["PHB"] = phb
	f.vars["QVAPOR"] = qv
}

func TestStoreCaching(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Log("repeated request did not return the cached array")
		t.Fail()
	}
	if f.reads["P"] != 1 {
		t.Logf("P was read %d times; want 1", f.reads["P"])
		t.Fail()
	}
}

func TestStoreDerivedCaching(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Get("tk")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get("tk")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Log("repeated derived request did not return the cached array")
		t.Fail()
	}
	for _, name := range []string{"P", "PB", "T"} {
		if f.reads[name] != 1 {
			t.Logf("%s was read %d times; want 1", name, f.reads[name])
			t.Fail()
		}
	}
	// The pressure intermediate should have been cached too.
	if _, ok := s.cache["pres"]; !ok {
		t.Log("deriving tk did not cache pres")
		t.Fail()
	}
}

func TestStorePres(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	pres, err := s.Get("pres")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1000, 900, 800} // hPa by level
	for k := 0; k < 3; k++ {
		if d := diff(pres.Get(k, 0, 0), want[k]); d > Tolerance {
			t.Logf("pres level %d: %g, want %g", k, pres.Get(k, 0, 0), want[k])
			t.Fail()
		}
	}
}

func TestStoreTK(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	tk, err := s.Get("tk")
	if err != nil {
		t.Fatal(err)
	}
	// Constant potential temperature of 300 K. At 1000 hPa temperature
	// equals potential temperature exactly.
	if d := diff(tk.Get(0, 1, 1), 300); d > Tolerance {
		t.Logf("tk at 1000 hPa: %g, want 300", tk.Get(0, 1, 1))
		t.Fail()
	}
	want := 300 * math.Pow(0.9, 287.04/1004.5)
	if d := diff(tk.Get(1, 0, 0), want); d > Tolerance {
		t.Logf("tk at 900 hPa: %g, want %g", tk.Get(1, 0, 0), want)
		t.Fail()
	}
}

func TestStoreSLP(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	slp, err := s.Get("slp")
	if err != nil {
		t.Fatal(err)
	}
	if len(slp.Shape) != 2 || slp.Shape[0] != 2 || slp.Shape[1] != 2 {
		t.Fatalf("slp shape %v, want [2 2]", slp.Shape)
	}
	// The lowest de-staggered level is at exactly 0 m, so the reduction
	// is the identity and slp equals the surface pressure.
	for _, v := range slp.Elements {
		if d := diff(v, 1000); d > Tolerance {
			t.Logf("slp: %g, want 1000", v)
			t.Fail()
		}
	}
}

func TestStoreSLPNegativeVapor(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	for i := range f.vars["QVAPOR"].Elements {
		f.vars["QVAPOR"].Elements[i] = -0.001
	}
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	slp, err := s.Get("slp")
	if err != nil {
		t.Fatal(err)
	}
	// Negative mixing ratios are clamped to zero, so the result matches
	// the dry case.
	for _, v := range slp.Elements {
		if d := diff(v, 1000); d > Tolerance {
			t.Logf("slp with negative vapor: %g, want 1000", v)
			t.Fail()
		}
	}
}

func TestStoreRawShadowsDerivation(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	raw := sparse.ZerosDense(2, 2)
	for i := range raw.Elements {
		raw.Elements[i] = 123
	}
	f.vars["slp"] = raw
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	slp, err := s.Get("slp")
	if err != nil {
		t.Fatal(err)
	}
	if d := diff(slp.Get(0, 0), 123); d > Tolerance {
		t.Logf("slp: %g, want the physically present value 123", slp.Get(0, 0))
		t.Fail()
	}
	if f.reads["slp"] != 1 {
		t.Logf("slp was read %d times; want 1", f.reads["slp"])
		t.Fail()
	}
}

func TestStoreUnknownVariable(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Get("no_such_field")
	var uerr *UnknownVariableError
	switch e := err.(type) {
	case *UnknownVariableError:
		uerr = e
	default:
		t.Fatalf("got %v, want UnknownVariableError", err)
	}
	if uerr.Name != "no_such_field" {
		t.Logf("error names %s, want no_such_field", uerr.Name)
		t.Fail()
	}
	if _, ok := s.cache["no_such_field"]; ok {
		t.Log("failed request left an entry in the cache")
		t.Fail()
	}
}

func TestStoreClearCache(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("P"); err != nil {
		t.Fatal(err)
	}
	s.ClearCache()
	if _, err := s.Get("P"); err != nil {
		t.Fatal(err)
	}
	if f.reads["P"] != 2 {
		t.Logf("P was read %d times after a cache clear; want 2", f.reads["P"])
		t.Fail()
	}
}

func TestStoreCloseKeepsCache(t *testing.T) {
	f := newFakeSource(1)
	testColumns(f)
	s, err := NewStore(f, At(0))
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Log("cached array changed after Close")
		t.Fail()
	}
	if _, err := s.Get("PB"); err == nil {
		t.Log("reading an uncached field after Close should fail")
		t.Fail()
	}
}

func TestTimeSelValidation(t *testing.T) {
	f := newFakeSource(3)
	testColumns(f)
	for _, ts := range []TimeSel{At(-1), Span(2, 1), Span(1, 1), At(3), Span(0, 4)} {
		if _, err := NewStore(f, ts); err == nil {
			t.Logf("selection %+v should be rejected", ts)
			t.Fail()
		}
	}
	for _, ts := range []TimeSel{At(0), At(2), Span(0, 3), Span(1, -1), AllTimes()} {
		if _, err := NewStore(f, ts); err != nil {
			t.Logf("selection %+v rejected: %v", ts, err)
			t.Fail()
		}
	}
}

func TestStoreMultiTime(t *testing.T) {
	f := newFakeSource(3)
	testColumns(f)
	s, err := NewStore(f, AllTimes())
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Shape) != 4 || p.Shape[0] != 3 {
		t.Fatalf("P shape %v, want a leading time axis of length 3", p.Shape)
	}
	if d := diff(p.Get(1, 0, 0, 0), 2000); d > Tolerance {
		t.Logf("P at time 1: %g, want 2000", p.Get(1, 0, 0, 0))
		t.Fail()
	}
}

func TestStoreMultiTimeDerived(t *testing.T) {
	f := newFakeSource(2)
	testColumns(f)
	s, err := NewStore(f, AllTimes())
	if err != nil {
		t.Fatal(err)
	}
	tk, err := s.Get("tk")
	if err != nil {
		t.Fatal(err)
	}
	if len(tk.Shape) != 4 || tk.Shape[0] != 2 || tk.Shape[1] != 3 {
		t.Fatalf("tk shape %v, want [2 3 2 2]", tk.Shape)
	}
	// The first record matches the single-time derivation.
	if d := diff(tk.Get(0, 0, 0, 0), 300); d > Tolerance {
		t.Logf("tk at time 0, 1000 hPa: %g, want 300", tk.Get(0, 0, 0, 0))
		t.Fail()
	}
	slp, err := s.Get("slp")
	if err != nil {
		t.Fatal(err)
	}
	if len(slp.Shape) != 3 || slp.Shape[0] != 2 {
		t.Fatalf("slp shape %v, want [2 2 2]", slp.Shape)
	}
}

func TestStoreSingleTimeOffset(t *testing.T) {
	f := newFakeSource(3)
	testColumns(f)
	s, err := NewStore(f, At(1))
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Get("P")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Shape) != 3 {
		t.Fatalf("P shape %v, want no time axis", p.Shape)
	}
	if d := diff(p.Get(0, 0, 0), 2000); d > Tolerance {
		t.Logf("P at time 1: %g, want 2000", p.Get(0, 0, 0))
		t.Fail()
	}
}
