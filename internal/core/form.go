package core

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// Reserved form keys understood by the QATrack+ perform view.
const (
	KeyWorkStarted   = "work_started"
	KeyWorkCompleted = "work_completed"
	KeyStatus        = "status"
	KeyComment       = "comment"

	KeyTotalForms   = "form-TOTAL_FORMS"
	KeyInitialForms = "form-INITIAL_FORMS"
	KeyMaxNumForms  = "form-MAX_NUM_FORMS"

	// MaxNumForms is the fixed management-form ceiling.
	MaxNumForms = "1000"
)

// Test instance status ids.
const (
	StatusUnreviewed = "1"
	StatusApproved   = "2"
)

// WorkTimeLayout is the format of work_started/work_completed.
const WorkTimeLayout = "02-01-2006 15:04"

// Form is a submission form: field keys to values. For every test index
// exactly one of form-<i>-value and form-<i>-skipped is present.
type Form map[string]string

// NewForm returns an empty form.
func NewForm() Form { return make(Form) }

func valueKey(i int) string   { return "form-" + strconv.Itoa(i) + "-value" }
func skippedKey(i int) string { return "form-" + strconv.Itoa(i) + "-skipped" }

// SetValue sets the value for index i and clears its skip marker.
func (f Form) SetValue(i int, v string) {
	delete(f, skippedKey(i))
	f[valueKey(i)] = v
}

// SetFloat sets a numeric value for index i.
func (f Form) SetFloat(i int, v float64) {
	f.SetValue(i, strconv.FormatFloat(v, 'f', -1, 64))
}

// Skip marks index i as skipped and clears any value.
func (f Form) Skip(i int) {
	delete(f, valueKey(i))
	f[skippedKey(i)] = "1"
}

// Value returns the value for index i.
func (f Form) Value(i int) (string, bool) {
	v, ok := f[valueKey(i)]
	return v, ok
}

// Skipped reports whether index i is marked skipped.
func (f Form) Skipped(i int) bool {
	_, ok := f[skippedKey(i)]
	return ok
}

// SetCounts writes the management form metadata for n tests.
func (f Form) SetCounts(n int) {
	s := strconv.Itoa(n)
	f[KeyTotalForms] = s
	f[KeyInitialForms] = s
	f[KeyMaxNumForms] = MaxNumForms
}

// Count returns the number of indices carrying a value or a skip marker.
func (f Form) Count() int {
	return len(f.Indices())
}

// Indices returns the populated test indices in ascending order.
func (f Form) Indices() []int {
	seen := make(map[int]bool)
	for k := range f {
		var i int
		var suffix string
		if _, err := fmt.Sscanf(k, "form-%d-%s", &i, &suffix); err == nil {
			seen[i] = true
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Check verifies that indices 0..n-1 each carry exactly one of value or
// skipped and that the management form agrees with n.
func (f Form) Check(n int) error {
	for i := 0; i < n; i++ {
		_, hasValue := f[valueKey(i)]
		_, hasSkip := f[skippedKey(i)]
		switch {
		case hasValue && hasSkip:
			return fmt.Errorf("form index %d has both value and skipped", i)
		case !hasValue && !hasSkip:
			return fmt.Errorf("form index %d has neither value nor skipped", i)
		}
	}
	if got := f.Count(); got != n {
		return fmt.Errorf("form has %d indices, want %d", got, n)
	}
	if f[KeyTotalForms] != strconv.Itoa(n) || f[KeyInitialForms] != strconv.Itoa(n) {
		return fmt.Errorf("form counts %q/%q, want %d", f[KeyTotalForms], f[KeyInitialForms], n)
	}
	return nil
}

// Values encodes the form for a POST body.
func (f Form) Values() url.Values {
	v := make(url.Values, len(f))
	for k, val := range f {
		v.Set(k, val)
	}
	return v
}

// Clone returns a copy of the form.
func (f Form) Clone() Form {
	out := make(Form, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
