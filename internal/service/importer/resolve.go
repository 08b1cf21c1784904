package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicware/ledger-import/internal/identity"
	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/normalize"
)

// runState carries everything one import run needs to make decisions. Both
// preflight and commit drive the same state: everything written (or
// pretend-written) this run lives in the batch maps, and the maps are always
// consulted before the applier reads, so the two runs take identical
// branches row by row whether a read sees pre-import data (preflight) or the
// open transaction (commit).
type runState struct {
	svc  *Service
	opts model.ImportOptions

	grouper *identity.Grouper
	groups  map[string]*resolvedGroup
	anonSeq int

	batchByShortID map[string]*resolvedGroup
	batchByPage    map[string]*resolvedGroup

	pages        map[uuid.UUID]map[string]bool
	pagesLoaded  map[uuid.UUID]bool
	primaryKnown map[uuid.UUID]bool

	insertedSigs map[string]bool
	insertedIDs  map[string]bool

	nextShortID int64

	conflicts []model.PageConflict
	counters  model.ImportCounters

	anyDoctorID string
	doctorCache map[string]string
}

type resolvedGroup struct {
	patient     *model.Patient
	created     bool
	hadPayments bool
}

func newRunState(svc *Service, opts model.ImportOptions) *runState {
	return &runState{
		svc:            svc,
		opts:           opts,
		grouper:        identity.NewGrouper(opts.SourceKind, opts.Mode),
		groups:         make(map[string]*resolvedGroup),
		batchByShortID: make(map[string]*resolvedGroup),
		batchByPage:    make(map[string]*resolvedGroup),
		pages:          make(map[uuid.UUID]map[string]bool),
		pagesLoaded:    make(map[uuid.UUID]bool),
		primaryKnown:   make(map[uuid.UUID]bool),
		insertedSigs:   make(map[string]bool),
		insertedIDs:    make(map[string]bool),
		doctorCache:    make(map[string]string),
	}
}

// compatibleIdentity is the gate applied before merging a row into an
// existing patient: the incoming row must carry a name and the normalized
// names must match exactly. Safe mode also refuses when both sides carry a
// phone and the phones differ. Aggressive mode merges on identifier alone.
// Looser name comparisons belong to the advisory duplicate suggester, never
// to a live merge.
func (st *runState) compatibleIdentity(name, phone string, rec *model.PaymentRecord) bool {
	if st.opts.Mode == model.ModeAggressive {
		return true
	}
	in := normalize.Name(rec.FullName)
	if in == "" || in != normalize.Name(name) {
		return false
	}
	if st.opts.Mode == model.ModeSafe {
		pa := normalize.Phone(phone)
		pb := normalize.Phone(rec.Phone)
		if pa != "" && pb != "" && pa != pb {
			return false
		}
	}
	return true
}

// identifier is the lookup token for the row: the first notebook page for
// spreadsheet rows, the clinic file number for CSV rows.
func (st *runState) identifier(rec *model.PaymentRecord) string {
	if st.opts.SourceKind == model.SourceCSV {
		return normalize.FileNumber(rec.FileOrPage)
	}
	return normalize.FirstPageToken(rec.FileOrPage)
}

// resolveGroup returns the patient for the record's group, matching an
// existing patient or creating a new one on first sight of the group.
func (st *runState) resolveGroup(ctx context.Context, ap applier, rec *model.PaymentRecord) (*resolvedGroup, error) {
	key := st.grouper.Assign(rec)
	if key == "" {
		// No usable identity at all: each such row is its own patient.
		st.anonSeq++
		key = fmt.Sprintf("anon|%d", st.anonSeq)
	}
	if g, ok := st.groups[key]; ok {
		return g, nil
	}

	id := st.identifier(rec)
	matched, err := st.findMatch(ctx, ap, rec, id)
	if err != nil {
		return nil, err
	}

	var g *resolvedGroup
	if matched != nil {
		g = matched
		st.counters.MatchedPatients++
		st.svc.metrics.PatientsMatched.Inc()
	} else {
		g, err = st.createPatientGroup(ctx, ap, rec, id)
		if err != nil {
			return nil, err
		}
		st.counters.CreatedPatients++
	}
	st.groups[key] = g

	if err := st.attachPages(ctx, ap, g, rec); err != nil {
		return nil, err
	}
	return g, nil
}

// findMatch looks the identifier up against patients that existed before the
// run and patients created earlier in this batch. An incompatible owner is
// never merged into: spreadsheet rows record a page conflict, CSV rows fall
// through to the collision path in createPatientGroup.
func (st *runState) findMatch(ctx context.Context, ap applier, rec *model.PaymentRecord, id string) (*resolvedGroup, error) {
	if id == "" {
		return nil, nil
	}

	// Batch index first: every patient this run touched is registered there,
	// so the lookup below only ever resolves pre-import patients, in commit
	// and preflight alike.
	if bg, ok := st.batchByShortID[id]; ok {
		if st.compatibleIdentity(bg.patient.FullName, bg.patient.Phone, rec) {
			return bg, nil
		}
		if st.opts.SourceKind == model.SourceSpreadsheet {
			st.recordConflict(rec, bg.patient, id)
		}
		return nil, nil
	}

	if existing, err := ap.getPatientByShortID(ctx, id); err != nil {
		return nil, err
	} else if existing != nil {
		if st.compatibleIdentity(existing.FullName, existing.Phone, rec) {
			return st.adoptExisting(existing), nil
		}
		if st.opts.SourceKind == model.SourceSpreadsheet {
			st.recordConflict(rec, existing, id)
		}
		return nil, nil
	}

	if st.opts.SourceKind == model.SourceSpreadsheet {
		return st.matchByPage(ctx, ap, rec, id)
	}

	// CSV page matching is opt-in; saving page numbers is not.
	if !st.opts.NeverAutoMergeByPageNumber {
		if page := normalize.FirstPageToken(rec.PageNumber); page != "" {
			return st.matchByPage(ctx, ap, rec, page)
		}
	}
	return nil, nil
}

func (st *runState) matchByPage(ctx context.Context, ap applier, rec *model.PaymentRecord, page string) (*resolvedGroup, error) {
	owner, err := ap.getPatientByPage(ctx, page)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		if st.compatibleIdentity(owner.FullName, owner.Phone, rec) {
			return st.adoptExisting(owner), nil
		}
		st.recordConflict(rec, owner, page)
		return nil, nil
	}

	if bg, ok := st.batchByPage[page]; ok {
		if st.compatibleIdentity(bg.patient.FullName, bg.patient.Phone, rec) {
			return bg, nil
		}
		st.recordConflict(rec, bg.patient, page)
	}
	return nil, nil
}

// adoptExisting wraps a pre-existing patient and registers it in the batch
// indexes so later rows resolve to the same group object.
func (st *runState) adoptExisting(patient *model.Patient) *resolvedGroup {
	if bg, ok := st.batchByShortID[patient.ShortID]; ok {
		return bg
	}
	g := &resolvedGroup{patient: patient}
	st.batchByShortID[patient.ShortID] = g
	if patient.PrimaryPageNumber != "" {
		st.primaryKnown[patient.ID] = true
	}
	return g
}

func (st *runState) recordConflict(rec *model.PaymentRecord, existing *model.Patient, page string) {
	st.counters.PageConflicts++
	st.svc.metrics.PageConflicts.Inc()
	if len(st.conflicts) < st.opts.MaxConflictPreview {
		st.conflicts = append(st.conflicts, model.PageConflict{
			PageNumber:         page,
			IncomingName:       strings.TrimSpace(rec.FullName),
			IncomingPhone:      strings.TrimSpace(rec.Phone),
			ExistingName:       existing.FullName,
			ExistingPhone:      existing.Phone,
			ExistingFileNumber: existing.ShortID,
		})
	}
}

func (st *runState) createPatientGroup(ctx context.Context, ap applier, rec *model.PaymentRecord, id string) (*resolvedGroup, error) {
	shortID := id
	if shortID != "" {
		taken, err := st.shortIDTaken(ctx, ap, shortID)
		if err != nil {
			return nil, err
		}
		if taken {
			st.counters.FileNumberCollisions++
			shortID = ""
		}
	}
	if shortID == "" {
		generated, err := st.nextFreeShortID(ctx, ap)
		if err != nil {
			return nil, err
		}
		shortID = generated
	}

	patient := &model.Patient{
		ID:       uuid.New(),
		ShortID:  shortID,
		FullName: strings.TrimSpace(rec.FullName),
		Phone:    strings.TrimSpace(rec.Phone),
	}
	if err := ap.createPatient(ctx, patient); err != nil {
		return nil, err
	}
	st.svc.metrics.PatientsCreated.Inc()

	g := &resolvedGroup{patient: patient, created: true}
	st.batchByShortID[shortID] = g
	st.pages[patient.ID] = make(map[string]bool)
	st.pagesLoaded[patient.ID] = true
	return g, nil
}

func (st *runState) shortIDTaken(ctx context.Context, ap applier, shortID string) (bool, error) {
	if _, ok := st.batchByShortID[shortID]; ok {
		return true, nil
	}
	return ap.shortIDExists(ctx, shortID)
}

func (st *runState) nextFreeShortID(ctx context.Context, ap applier) (string, error) {
	if st.nextShortID == 0 {
		max, err := ap.maxNumericShortID(ctx)
		if err != nil {
			return "", err
		}
		// Ids handed out earlier this run raise the floor too, so the seed
		// is the same whether or not the read can see them yet.
		for shortID := range st.batchByShortID {
			if n, err := strconv.ParseInt(shortID, 10, 64); err == nil && n > max {
				max = n
			}
		}
		st.nextShortID = max + 1
	}
	for {
		candidate := strconv.FormatInt(st.nextShortID, 10)
		st.nextShortID++
		taken, err := st.shortIDTaken(ctx, ap, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// attachPages saves the record's page numbers on the resolved patient and
// sets the primary page the first time one is seen. Attaching never moves a
// page away from another patient.
func (st *runState) attachPages(ctx context.Context, ap applier, g *resolvedGroup, rec *model.PaymentRecord) error {
	raw := rec.FileOrPage
	if st.opts.SourceKind == model.SourceCSV {
		raw = rec.PageNumber
	}
	pageTokens := normalize.SplitPageNumbers(raw)
	if len(pageTokens) == 0 {
		return nil
	}

	for _, page := range pageTokens {
		has, err := st.hasPage(ctx, ap, g.patient, page)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		err = ap.attachPage(ctx, &model.PatientPage{
			ID:         uuid.New(),
			PatientID:  g.patient.ID,
			PageNumber: page,
		})
		if err != nil {
			return err
		}
		st.pages[g.patient.ID][page] = true
		st.batchByPage[page] = g
		st.counters.PageNumbersSaved++
	}

	if !st.primaryKnown[g.patient.ID] && g.patient.PrimaryPageNumber == "" {
		if err := ap.setPrimaryPage(ctx, g.patient.ID, pageTokens[0]); err != nil {
			return err
		}
		g.patient.PrimaryPageNumber = pageTokens[0]
		st.primaryKnown[g.patient.ID] = true
		st.counters.PrimaryPagesSet++
	}
	return nil
}

func (st *runState) hasPage(ctx context.Context, ap applier, patient *model.Patient, page string) (bool, error) {
	if !st.pagesLoaded[patient.ID] {
		existing, err := ap.listPages(ctx, patient.ID)
		if err != nil {
			return false, err
		}
		set := make(map[string]bool, len(existing))
		for _, p := range existing {
			set[p.PageNumber] = true
		}
		st.pages[patient.ID] = set
		st.pagesLoaded[patient.ID] = true
	}
	return st.pages[patient.ID][page], nil
}

// resolveDoctor maps a free-text doctor label to a doctor id, falling back
// to the sentinel doctor when the label is empty or unknown.
func (st *runState) resolveDoctor(ctx context.Context, ap applier, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return st.anyDoctorID, nil
	}
	if id, ok := st.doctorCache[label]; ok {
		return id, nil
	}
	doctor, err := ap.getDoctorByName(ctx, label)
	if err != nil {
		return "", err
	}
	id := st.anyDoctorID
	if doctor != nil {
		id = doctor.ID
	}
	st.doctorCache[label] = id
	return id, nil
}
