package core

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// LayoutField places one spreadsheet column into a test index.
type LayoutField struct {
	Index  int       // Form index
	Column int       // Position within the record, 0 = first column read
	Kind   FieldKind // bool fields are marks compared against Layout.MarkToken

	// Rebase is subtracted from multiple-choice ordinals; the result is an integer.
	Rebase int

	// Indicator, when > 0, is the column holding a direction; the value is
	// negated when it equals Marker.
	Indicator int
	Marker    string
}

// Layout describes a positional spreadsheet format.
type Layout struct {
	Key   string // "ct_daily"
	Label string // "CT Daily QA"

	// Sheet geometry. Columns are spreadsheet letters, inclusive.
	FirstColumn     string
	LastColumn      string
	DefaultStartRow int

	DateColumn     int
	ActivityColumn int
	CommentColumn  int // -1 when the layout has no free-text column

	// NoActivity marks a record as not performed when contained in the
	// activity cell (case-insensitive).
	NoActivity string
	MarkToken  string

	// Work window for sources without explicit times.
	StartHour, StartMinute int
	Duration               time.Duration

	Status string
	Fields []LayoutField
}

// Validate checks that field indices run from zero without gaps.
func (l Layout) Validate() error {
	seen := make(map[int]bool, len(l.Fields))
	for _, f := range l.Fields {
		if f.Index < 0 || seen[f.Index] {
			return fmt.Errorf("layout %s: duplicate or negative index %d", l.Key, f.Index)
		}
		seen[f.Index] = true
	}
	for i := range l.Fields {
		if !seen[i] {
			return fmt.Errorf("layout %s: index %d missing", l.Key, i)
		}
	}
	if l.FirstColumn == "" || l.LastColumn == "" {
		return fmt.Errorf("layout %s: column range required", l.Key)
	}
	return nil
}

var (
	registry   = make(map[string]Layout)
	registryMu sync.RWMutex
)

// Register adds a layout to the registry.
// Panics if a layout with the same key is already registered or is invalid.
func Register(l Layout) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[l.Key]; exists {
		panic(fmt.Sprintf("layout already registered: %s", l.Key))
	}
	if err := l.Validate(); err != nil {
		panic(err.Error())
	}
	if l.Status == "" {
		l.Status = StatusApproved
	}

	registry[l.Key] = l
}

// Get returns a layout by key.
// Returns false if not found.
func Get(key string) (Layout, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	l, ok := registry[key]
	return l, ok
}

// All returns all registered layouts sorted by key.
func All() []Layout {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Layout, 0, len(registry))
	for _, l := range registry {
		result = append(result, l)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}
