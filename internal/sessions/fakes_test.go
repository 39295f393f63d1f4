package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-platform/internal/payments"
)

var errBoom = errors.New("boom")

type fakeStore struct {
	mu sync.Mutex

	series      []*Series
	sessions    map[uuid.UUID]*Session
	order       []uuid.UUID
	records     []*ClinicalRecord
	price       int64
	tokens      map[uuid.UUID]string
	confirmedAt map[uuid.UUID]time.Time
	deactivated []uuid.UUID

	insertSeriesErr  error
	failSessionDates map[string]bool
	batchDeleteErr   error
	failDelete       map[uuid.UUID]error
	insertRecordErr  error
	priceErr         error
	updateCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:         map[uuid.UUID]*Session{},
		tokens:           map[uuid.UUID]string{},
		confirmedAt:      map[uuid.UUID]time.Time{},
		failSessionDates: map[string]bool{},
		failDelete:       map[uuid.UUID]error{},
	}
}

func (f *fakeStore) InsertSeries(_ context.Context, s *Series) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertSeriesErr != nil {
		return f.insertSeriesErr
	}
	s.ID = uuid.New()
	s.Active = true
	f.series = append(f.series, s)
	return nil
}

func (f *fakeStore) InsertSession(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSessionDates[s.Date.Format("2006-01-02")] {
		return errBoom
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Attendance == "" {
		s.Attendance = AttendanceUnset
	}
	cp := *s
	f.sessions[s.ID] = &cp
	f.order = append(f.order, s.ID)
	return nil
}

func (f *fakeStore) addSession(s Session) uuid.UUID {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Attendance == "" {
		s.Attendance = AttendanceUnset
	}
	f.sessions[s.ID] = &s
	f.order = append(f.order, s.ID)
	return s.ID
}

func (f *fakeStore) GetSession(_ context.Context, accountID string, id uuid.UUID) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.AccountID != accountID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) SeriesSessionIDs(_ context.Context, accountID string, seriesID uuid.UUID, cutoff *time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, id := range f.order {
		s, ok := f.sessions[id]
		if !ok || s.AccountID != accountID || s.SeriesID == nil || *s.SeriesID != seriesID {
			continue
		}
		if cutoff != nil && s.Date.Before(*cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) DeleteSessionsBatch(_ context.Context, _ string, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchDeleteErr != nil {
		return 0, f.batchDeleteErr
	}
	for _, id := range ids {
		delete(f.sessions, id)
	}
	return int64(len(ids)), nil
}

func (f *fakeStore) DeleteSession(_ context.Context, _ string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failDelete[id]; err != nil {
		return err
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) DeactivateSeries(_ context.Context, _ string, seriesID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, seriesID)
	return nil
}

func (f *fakeStore) UpdateAttendance(_ context.Context, accountID string, id uuid.UUID, attendance Attendance, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	s, ok := f.sessions[id]
	if !ok || s.AccountID != accountID {
		return ErrNotFound
	}
	s.Attendance = attendance
	s.Notes = notes
	return nil
}

func (f *fakeStore) InsertClinicalRecord(_ context.Context, rec *ClinicalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertRecordErr != nil {
		return f.insertRecordErr
	}
	rec.ID = uuid.New()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) PatientPrice(context.Context, string, uuid.UUID) (int64, error) {
	return f.price, f.priceErr
}

func (f *fakeStore) NotificationTarget(_ context.Context, accountID string, id uuid.UUID) (*NotificationTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.AccountID != accountID {
		return nil, ErrNotFound
	}
	return &NotificationTarget{
		SessionID:    s.ID,
		AccountID:    s.AccountID,
		PatientName:  "Ana Souza",
		PatientPhone: "+5511999990000",
		Date:         s.Date,
		Time:         s.Time,
		MeetingLink:  s.MeetingLink,
	}, nil
}

func (f *fakeStore) EnsureNotificationToken(_ context.Context, accountID string, id uuid.UUID, candidate string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.AccountID != accountID {
		return "", ErrNotFound
	}
	if existing, ok := f.tokens[id]; ok {
		return existing, nil
	}
	f.tokens[id] = candidate
	return candidate, nil
}

func (f *fakeStore) ConfirmationState(_ context.Context, id uuid.UUID) (*string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	var token *string
	if t, ok := f.tokens[id]; ok {
		token = &t
	}
	return token, s.PatientConfirmed, nil
}

func (f *fakeStore) MarkConfirmed(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.PatientConfirmed = true
	if _, ok := f.confirmedAt[id]; !ok {
		f.confirmedAt[id] = at
	}
	return nil
}

type fakePayments struct {
	mu sync.Mutex

	records map[uuid.UUID]*payments.Record

	failInsertSessions map[uuid.UUID]bool
	insertErr          error
	batchErr           error
	failDelete         map[uuid.UUID]error
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		records:            map[uuid.UUID]*payments.Record{},
		failInsertSessions: map[uuid.UUID]bool{},
		failDelete:         map[uuid.UUID]error{},
	}
}

func (f *fakePayments) Insert(_ context.Context, rec *payments.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if rec.SessionID != nil && f.failInsertSessions[*rec.SessionID] {
		return errBoom
	}
	final, err := payments.FinalAmount(rec.AmountCents, rec.DiscountCents)
	if err != nil {
		return err
	}
	rec.FinalAmountCents = final
	rec.ID = uuid.New()
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakePayments) FindBySession(_ context.Context, accountID string, sessionID uuid.UUID) (*payments.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.AccountID == accountID && r.SessionID != nil && *r.SessionID == sessionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (f *fakePayments) LinkToClinicalRecord(_ context.Context, _ string, id, clinicalRecordID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return payments.ErrNotFound
	}
	attended := true
	cid := clinicalRecordID
	r.ClinicalRecordID = &cid
	r.SessionID = nil
	r.Forecast = false
	r.Attended = &attended
	return nil
}

func (f *fakePayments) SetAttended(_ context.Context, _ string, id uuid.UUID, attended bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return payments.ErrNotFound
	}
	r.Attended = &attended
	return nil
}

func (f *fakePayments) ListBySessions(_ context.Context, accountID string, sessionIDs []uuid.UUID) ([]payments.SessionLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = true
	}
	var out []payments.SessionLink
	for _, r := range f.records {
		if r.AccountID == accountID && r.SessionID != nil && want[*r.SessionID] {
			out = append(out, payments.SessionLink{PaymentID: r.ID, SessionID: *r.SessionID})
		}
	}
	return out, nil
}

func (f *fakePayments) DeleteBatch(_ context.Context, _ string, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	for _, id := range ids {
		delete(f.records, id)
	}
	return int64(len(ids)), nil
}

func (f *fakePayments) Delete(_ context.Context, _ string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failDelete[id]; err != nil {
		return err
	}
	delete(f.records, id)
	return nil
}

func (f *fakePayments) bySession(id uuid.UUID) *payments.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.SessionID != nil && *r.SessionID == id {
			return r
		}
	}
	return nil
}

func (f *fakePayments) byClinicalRecord(id uuid.UUID) []*payments.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payments.Record
	for _, r := range f.records {
		if r.ClinicalRecordID != nil && *r.ClinicalRecordID == id {
			out = append(out, r)
		}
	}
	return out
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
