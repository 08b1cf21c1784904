package identity

import (
	"fmt"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
)

// Grouper assigns records to patient groups in input order. It exists
// because a phone number absent on one side must be tolerated: two rows with
// the same page and name group together even when only one carries a phone,
// while rows with two different non-empty phones stay apart in safe mode.
// Preview, preflight and commit all group through this type; assignment is
// deterministic for a given input order, which is what makes dry-run counts
// reproducible by a real commit.
type Grouper struct {
	kind  model.SourceKind
	mode  model.Mode
	slots map[string][]*groupSlot
}

type groupSlot struct {
	phone string
	key   string
}

func NewGrouper(kind model.SourceKind, mode model.Mode) *Grouper {
	return &Grouper{
		kind:  kind,
		mode:  mode,
		slots: make(map[string][]*groupSlot),
	}
}

// Assign returns the group key for rec, creating a new group when no
// compatible one exists. An empty key means the record has no usable
// identity and must be excluded from grouping.
func (g *Grouper) Assign(rec *model.PaymentRecord) string {
	literal := GroupKey(rec, g.kind, g.mode)
	if literal == "" {
		return ""
	}

	base := g.baseKey(rec)
	if base == "" {
		base = literal
	}
	phone := normalize.Phone(rec.Phone)

	for _, slot := range g.slots[base] {
		if g.compatible(slot.phone, phone) {
			if slot.phone == "" && phone != "" {
				slot.phone = phone
			}
			return slot.key
		}
	}

	slot := &groupSlot{phone: phone, key: literal}
	g.slots[base] = append(g.slots[base], slot)
	return slot.key
}

// Len returns the number of groups assigned so far.
func (g *Grouper) Len() int {
	n := 0
	for _, slots := range g.slots {
		n += len(slots)
	}
	return n
}

// baseKey is the phone-free part of the composite safe-mode key. Fallback
// keys (phone alone, name alone) and the other modes, whose literal keys
// already omit the phone, have no separate base and return "".
func (g *Grouper) baseKey(rec *model.PaymentRecord) string {
	if g.mode != model.ModeSafe {
		return ""
	}
	name := normalize.Name(rec.FullName)
	if name == "" {
		return ""
	}
	if g.kind == model.SourceCSV {
		if file := normalize.FileNumber(rec.FileOrPage); file != "" {
			return fmt.Sprintf("file|%s|%s", file, name)
		}
		return ""
	}
	if page := normalize.FirstPageToken(rec.FileOrPage); page != "" {
		return fmt.Sprintf("pg|%s|%s", page, name)
	}
	return ""
}

func (g *Grouper) compatible(a, b string) bool {
	if g.mode != model.ModeSafe {
		return true
	}
	return a == "" || b == "" || a == b
}
