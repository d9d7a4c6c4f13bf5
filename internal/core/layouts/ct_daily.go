package layouts

import (
	"time"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// CTDaily is the key of the CT daily QA workbook layout.
const CTDaily = "ct_daily"

func init() {
	registerCTDaily()
}

// registerCTDaily registers the CT daily QA sheet: columns B:AE, one row per
// day, data from row 55 (first row recorded with the current procedure).
//
// Record positions (0 = column B):
//
//	0      date
//	1      operator initials, or a "NO ..." note when no scan was done
//	2-20   numeric tests 0-18; test 10 is 1-based, test 12 is 2-based
//	21/22  laser deviation direction and value (R = negative)
//	23/24  couch deviation direction and value (P = negative)
//	25     couch test
//	26-28  pass marks, "X" = pass
//	29     comment
func registerCTDaily() {
	fields := make([]core.LayoutField, 0, 25)
	for col := 2; col <= 20; col++ {
		f := core.LayoutField{Index: col - 2, Column: col, Kind: core.KindFloat}
		switch f.Index {
		case 10:
			f.Rebase = 1
		case 12:
			f.Rebase = 2
		}
		fields = append(fields, f)
	}
	fields = append(fields,
		core.LayoutField{Index: 19, Column: 22, Kind: core.KindFloat, Indicator: 21, Marker: "R"},
		core.LayoutField{Index: 20, Column: 24, Kind: core.KindFloat, Indicator: 23, Marker: "P"},
		core.LayoutField{Index: 21, Column: 25, Kind: core.KindFloat},
	)
	for col := 26; col <= 28; col++ {
		fields = append(fields, core.LayoutField{Index: col - 4, Column: col, Kind: core.KindBool})
	}

	core.Register(core.Layout{
		Key:             CTDaily,
		Label:           "CT Daily QA",
		FirstColumn:     "B",
		LastColumn:      "AE",
		DefaultStartRow: 55,
		DateColumn:      0,
		ActivityColumn:  1,
		CommentColumn:   29,
		NoActivity:      "NO",
		MarkToken:       "X",
		StartHour:       6,
		Duration:        30 * time.Minute,
		Status:          core.StatusApproved,
		Fields:          fields,
	})
}
