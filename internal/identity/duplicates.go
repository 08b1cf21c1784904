package identity

import (
	"sort"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
)

// DuplicateCandidate is one (file number, phone) cluster inside a name group,
// with payment counts and totals for human review.
type DuplicateCandidate struct {
	ShortID        string `json:"short_id"`
	RawFile        string `json:"raw_file"`
	Phone          string `json:"phone"`
	PhoneNorm      string `json:"-"`
	PaymentsCount  int    `json:"payments_count"`
	TotalCents     int64  `json:"total_cents"`
	PaidCents      int64  `json:"paid_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

// DuplicateSuggestion flags records that share a first+second name but are
// filed under different file/page numbers. Advisory only: suggestions never
// mutate data, merging is a separate human-confirmed operation.
type DuplicateSuggestion struct {
	FirstTwoName string                `json:"first_two_name"`
	DisplayName  string                `json:"display_name"`
	Candidates   []*DuplicateCandidate `json:"candidates"`
}

// SuggestDuplicates clusters records by the first two name tokens and
// sub-groups by (normalized file number, normalized phone).
//
// Aggressive reporting flags any name group with two or more sub-groups.
// Default reporting additionally requires that either two sub-groups share
// an identical non-empty phone, or at least one sub-group has no phone.
func SuggestDuplicates(records []*model.PaymentRecord, aggressive bool) []*DuplicateSuggestion {
	type subKey struct {
		file  string
		phone string
	}

	groups := make(map[string]map[subKey]*DuplicateCandidate)
	order := make([]string, 0)

	for _, rec := range records {
		normName := normalize.Name(rec.FullName)
		firstTwo := normalize.FirstTwoNameTokens(normName)
		if firstTwo == "" {
			continue
		}

		phoneNorm := normalize.Phone(rec.Phone)
		fileNorm := normalize.FileNumber(rec.FileOrPage)
		key := subKey{file: fileNorm, phone: phoneNorm}

		g, ok := groups[firstTwo]
		if !ok {
			g = make(map[subKey]*DuplicateCandidate)
			groups[firstTwo] = g
			order = append(order, firstTwo)
		}
		cand, ok := g[key]
		if !ok {
			cand = &DuplicateCandidate{
				ShortID:   fileNorm,
				RawFile:   rec.FileOrPage,
				Phone:     rec.Phone,
				PhoneNorm: phoneNorm,
			}
			g[key] = cand
		}
		cand.PaymentsCount++
		cand.TotalCents += rec.TotalCents
		cand.PaidCents += rec.PaidCents
		cand.RemainingCents += rec.RemainingCents
	}

	sampleNames := make(map[string]string)
	for _, rec := range records {
		firstTwo := normalize.FirstTwoNameTokens(normalize.Name(rec.FullName))
		if firstTwo == "" {
			continue
		}
		if _, ok := sampleNames[firstTwo]; !ok && rec.FullName != "" {
			sampleNames[firstTwo] = rec.FullName
		}
	}

	var suggestions []*DuplicateSuggestion
	for _, firstTwo := range order {
		candMap := groups[firstTwo]
		if len(candMap) < 2 {
			continue
		}

		cands := make([]*DuplicateCandidate, 0, len(candMap))
		for _, c := range candMap {
			cands = append(cands, c)
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].ShortID != cands[j].ShortID {
				return cands[i].ShortID < cands[j].ShortID
			}
			return cands[i].PhoneNorm < cands[j].PhoneNorm
		})

		if !aggressive && !worthReporting(cands) {
			continue
		}

		display := sampleNames[firstTwo]
		if display == "" {
			display = firstTwo
		}
		suggestions = append(suggestions, &DuplicateSuggestion{
			FirstTwoName: firstTwo,
			DisplayName:  display,
			Candidates:   cands,
		})
	}
	return suggestions
}

func worthReporting(cands []*DuplicateCandidate) bool {
	phoneCounts := make(map[string]int)
	missingPhone := false
	for _, c := range cands {
		if c.PhoneNorm == "" {
			missingPhone = true
		} else {
			phoneCounts[c.PhoneNorm]++
		}
	}
	for _, n := range phoneCounts {
		if n >= 2 {
			return true
		}
	}
	return missingPhone
}
