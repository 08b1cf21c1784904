package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
)

// rowKey is the stable identity of a source row across re-imports of the
// same notebook: the data-row ordinal plus whichever of page, name and phone
// the row carries. Rows without a source ordinal cannot be tracked and
// return "".
func rowKey(rec *model.PaymentRecord) string {
	if rec.SourceRowID == "" {
		return ""
	}
	parts := []string{rec.SourceRowID}
	if f := normalize.FirstPageToken(rec.FileOrPage); f != "" {
		parts = append(parts, "pg:"+f)
	}
	if n := normalize.Name(rec.FullName); n != "" {
		parts = append(parts, "nm:"+n)
	}
	if p := normalize.Phone(rec.Phone); p != "" {
		parts = append(parts, "ph:"+p)
	}
	return strings.Join(parts, "|")
}

// rowFingerprint hashes the row's payment content. Identity fields stay out:
// the key locates the row, the fingerprint tells whether it was edited.
func rowFingerprint(rec *model.PaymentRecord) string {
	fields := []string{
		rec.PaidAt,
		strconv.FormatInt(rec.TotalCents, 10),
		strconv.FormatInt(rec.PaidCents, 10),
		strconv.FormatInt(rec.RemainingCents, 10),
		strconv.FormatInt(rec.DiscountCents, 10),
		flagBit(rec.ExamFlag),
		flagBit(rec.FollowFlag),
		normalize.ImportText(rec.Treatment),
		normalize.ImportText(rec.Notes),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func flagBit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
