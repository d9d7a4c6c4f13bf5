package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assessmentTime = time.Date(2015, 1, 2, 9, 15, 0, 0, time.UTC)

func testMapping() FieldMapping {
	return FieldMapping{
		"100": {Index: 0, Kind: KindBool},
		"101": {Index: 1, Kind: KindFloat},
		"102": {Index: 2, Kind: KindString},
		"103": {Index: 3, Kind: KindBool},
		"900": {Role: RoleOperator, Kind: KindString},
		"901": {Role: RoleReviewer, Kind: KindString},
		"902": {Role: RoleComment, Kind: KindString},
	}
}

func obsSet(obs ...Observation) Record {
	return Record{
		Ref:          "Row 4411",
		Cursor:       DateCursor(assessmentTime),
		Next:         DateCursor(assessmentTime).Next(),
		Time:         assessmentTime,
		Observations: obs,
	}
}

func TestCodedMapper_FullSet(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	got, err := m.Map(obsSet(
		Observation{Code: "100", Float: Number(1)},
		Observation{Code: "101", Float: Number(-0.75)},
		Observation{Code: "102", Text: Text("Catphan OK   ")},
		Observation{Code: "103", Text: Text("x")},
		Observation{Code: "900", Text: Text("JM ")},
		Observation{Code: "901", Text: Text("AP")},
		Observation{Code: "902", Text: Text("Replaced lamp")},
		Observation{Code: "555", Float: Number(3)}, // unmapped
	))
	require.NoError(t, err)
	require.False(t, got.Skip)

	want := Form{
		"form-0-value":       "1",
		"form-1-value":       "-0.75",
		"form-2-value":       "Catphan OK",
		"form-3-value":       "1",
		"status":             StatusApproved,
		"comment":            "Performed by JM\nReviewed by AP\nReplaced lamp\nRow 4411",
		"work_started":       "02-01-2015 09:15",
		"work_completed":     "02-01-2015 09:45",
		"form-TOTAL_FORMS":   "4",
		"form-INITIAL_FORMS": "4",
		"form-MAX_NUM_FORMS": "1000",
	}
	if diff := cmp.Diff(want, got.Form); diff != "" {
		t.Errorf("form mismatch (-want +got):\n%s", diff)
	}
}

func TestCodedMapper_MissingValuesAreSkipped(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	got, err := m.Map(obsSet(
		Observation{Code: "100", Float: Number(0)},
		Observation{Code: "102"}, // present but empty
	))
	require.NoError(t, err)

	v, _ := got.Form.Value(0)
	assert.Equal(t, "0", v)
	assert.True(t, got.Form.Skipped(1))
	assert.True(t, got.Form.Skipped(2))
	assert.True(t, got.Form.Skipped(3))
	assert.NoError(t, got.Form.Check(4))
}

func TestCodedMapper_StatusUnreviewedWithoutReviewer(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	got, err := m.Map(obsSet(Observation{Code: "900", Text: Text("JM")}, Observation{Code: "101", Float: Number(2)}))
	require.NoError(t, err)
	assert.Equal(t, StatusUnreviewed, got.Form[KeyStatus])
	assert.Equal(t, "Performed by JM\nRow 4411", got.Form[KeyComment])
}

func TestCodedMapper_SkipsSetWithoutMappedObservations(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	got, err := m.Map(obsSet(Observation{Code: "555", Float: Number(1)}))
	require.NoError(t, err)
	assert.True(t, got.Skip)
}

func TestCodedMapper_NonNumericFloat(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	_, err = m.Map(obsSet(Observation{Code: "101", Text: Text("high")}))
	var me *MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "Row 4411", me.Ref)
	assert.Equal(t, "code 101", me.Field)
}

func TestCodedMapper_DecimalCommaFloat(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	_, err = m.Map(obsSet(Observation{Code: "101", Text: Text("1,5")}))
	var me *MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "code 101", me.Field)
}

func TestCodedMapper_TextualFloat(t *testing.T) {
	m, err := NewCodedMapper(testMapping())
	require.NoError(t, err)

	got, err := m.Map(obsSet(Observation{Code: "101", Text: Text("1.25")}))
	require.NoError(t, err)
	v, _ := got.Form.Value(1)
	assert.Equal(t, "1.25", v)
}

func TestCodedMapper_DefaultMapping(t *testing.T) {
	m, err := NewCodedMapper(nil)
	require.NoError(t, err)

	got, err := m.Map(obsSet(Observation{Code: "19661", Float: Number(99.5)}))
	require.NoError(t, err)
	assert.Equal(t, "18", got.Form[KeyTotalForms])
	v, _ := got.Form.Value(6)
	assert.Equal(t, "99.5", v)
	assert.NoError(t, got.Form.Check(18))
}

func TestFieldMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mapping FieldMapping
		wantErr string
	}{
		{name: "default is valid", mapping: DefaultMapping()},
		{
			name:    "duplicate index",
			mapping: FieldMapping{"1": {Index: 0, Kind: KindBool}, "2": {Index: 0, Kind: KindFloat}},
			wantErr: "index 0 already mapped",
		},
		{
			name:    "gap in indices",
			mapping: FieldMapping{"1": {Index: 0, Kind: KindBool}, "2": {Index: 2, Kind: KindFloat}},
			wantErr: "index 1 is not mapped",
		},
		{
			name:    "duplicate role",
			mapping: FieldMapping{"1": {Index: 0, Kind: KindBool}, "2": {Role: RoleOperator, Kind: KindString}, "3": {Role: RoleOperator, Kind: KindString}},
			wantErr: "role user already mapped",
		},
		{
			name:    "unknown kind",
			mapping: FieldMapping{"1": {Index: 0, Kind: "date"}},
			wantErr: "unknown kind",
		},
		{
			name:    "roles only",
			mapping: FieldMapping{"2": {Role: RoleComment, Kind: KindString}},
			wantErr: "no test indices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFieldKindAndRole(t *testing.T) {
	k, err := ParseFieldKind("String")
	require.NoError(t, err)
	assert.Equal(t, KindString, k)
	_, err = ParseFieldKind("date")
	assert.Error(t, err)

	r, err := ParseRole("approval")
	require.NoError(t, err)
	assert.Equal(t, RoleReviewer, r)
	_, err = ParseRole("boss")
	assert.Error(t, err)
}
