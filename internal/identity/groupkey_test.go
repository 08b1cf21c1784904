package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/ledger-import/internal/model"
)

func rec(fileOrPage, name, phone string) *model.PaymentRecord {
	return &model.PaymentRecord{FileOrPage: fileOrPage, FullName: name, Phone: phone}
}

func TestGroupKeySpreadsheetSafe(t *testing.T) {
	assert.Equal(t, "pg|12|mona said|0100000000",
		GroupKey(rec("12", "Mona Said", "0100000000"), model.SourceSpreadsheet, model.ModeSafe))
	assert.Equal(t, "pg|12|mona said",
		GroupKey(rec("12", "Mona Said", ""), model.SourceSpreadsheet, model.ModeSafe))
	assert.Equal(t, "phone|0100000000",
		GroupKey(rec("", "", "0100000000"), model.SourceSpreadsheet, model.ModeSafe))
	assert.Equal(t, "name|mona said",
		GroupKey(rec("", "Mona Said", ""), model.SourceSpreadsheet, model.ModeSafe))
	assert.Equal(t, "",
		GroupKey(rec("", "", ""), model.SourceSpreadsheet, model.ModeSafe))
}

func TestGroupKeySpreadsheetNormalIgnoresPhone(t *testing.T) {
	withPhone := GroupKey(rec("12", "Mona Said", "0100000000"), model.SourceSpreadsheet, model.ModeNormal)
	withoutPhone := GroupKey(rec("12", "Mona Said", ""), model.SourceSpreadsheet, model.ModeNormal)
	assert.Equal(t, withPhone, withoutPhone)
	assert.Equal(t, "pg|12|mona said", withPhone)
}

func TestGroupKeyAggressivePageAlone(t *testing.T) {
	assert.Equal(t, "pg|12",
		GroupKey(rec("12", "Mona Said", "0100000000"), model.SourceSpreadsheet, model.ModeAggressive))
	assert.Equal(t, "pg|45",
		GroupKey(rec("45-46", "", ""), model.SourceSpreadsheet, model.ModeAggressive))
	assert.Equal(t, "name|mona said",
		GroupKey(rec("", "Mona Said", ""), model.SourceSpreadsheet, model.ModeAggressive))
}

func TestGroupKeyCSVUsesFileNumber(t *testing.T) {
	assert.Equal(t, "file|123|mona said",
		GroupKey(rec("P-0123", "Mona Said", ""), model.SourceCSV, model.ModeSafe))
	assert.Equal(t, "file|123",
		GroupKey(rec("123", "Mona Said", ""), model.SourceCSV, model.ModeAggressive))
}

func TestGroupKeyNormalizesPageRanges(t *testing.T) {
	a := GroupKey(rec("45-46", "Omar Ali", ""), model.SourceSpreadsheet, model.ModeSafe)
	b := GroupKey(rec("45", "Omar Ali", ""), model.SourceSpreadsheet, model.ModeSafe)
	assert.Equal(t, a, b)
}

func TestGrouperToleratesAbsentPhone(t *testing.T) {
	g := NewGrouper(model.SourceSpreadsheet, model.ModeSafe)
	a := g.Assign(rec("12", "Mona Said", ""))
	b := g.Assign(rec("12", "Mona Said", "0100000000"))
	assert.Equal(t, a, b)
	assert.Equal(t, 1, g.Len())

	// Same assignment in either input order.
	g2 := NewGrouper(model.SourceSpreadsheet, model.ModeSafe)
	b2 := g2.Assign(rec("12", "Mona Said", "0100000000"))
	a2 := g2.Assign(rec("12", "Mona Said", ""))
	assert.Equal(t, b2, a2)
	assert.Equal(t, 1, g2.Len())
}

func TestGrouperSplitsConflictingPhones(t *testing.T) {
	g := NewGrouper(model.SourceSpreadsheet, model.ModeSafe)
	a := g.Assign(rec("12", "Mona Said", "0100000000"))
	b := g.Assign(rec("12", "Mona Said", "0111111111"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, g.Len())
}

func TestGrouperAggressiveGroupsByPageAlone(t *testing.T) {
	g := NewGrouper(model.SourceSpreadsheet, model.ModeAggressive)
	a := g.Assign(rec("12", "Mona Said", ""))
	b := g.Assign(rec("12", "Sara Adel", "0100000000"))
	assert.Equal(t, a, b)
	assert.Equal(t, 1, g.Len())
}

func TestGrouperSkipsNoIdentity(t *testing.T) {
	g := NewGrouper(model.SourceSpreadsheet, model.ModeSafe)
	assert.Equal(t, "", g.Assign(rec("", "", "")))
	assert.Equal(t, 0, g.Len())
}
