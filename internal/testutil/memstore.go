// Package testutil provides an in-memory implementation of every repository
// plus a transaction manager that restores a snapshot on rollback.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hms/hms/internal/domain/admin"
	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
)

type txKey struct{}

type state struct {
	patients    map[string]ward.Patient
	doctors     map[string]ward.Doctor
	rooms       map[string]ward.Room
	history     []ward.PatientHistory
	bookings    map[int64]intake.Booking
	users       map[string]admin.User
	nextHistory int64
	nextBooking int64
}

func (s *state) clone() state {
	c := state{
		patients:    make(map[string]ward.Patient, len(s.patients)),
		doctors:     make(map[string]ward.Doctor, len(s.doctors)),
		rooms:       make(map[string]ward.Room, len(s.rooms)),
		history:     append([]ward.PatientHistory(nil), s.history...),
		bookings:    make(map[int64]intake.Booking, len(s.bookings)),
		users:       make(map[string]admin.User, len(s.users)),
		nextHistory: s.nextHistory,
		nextBooking: s.nextBooking,
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.doctors {
		c.doctors[k] = v
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store is a process-local database. Stored structs are copied in and out;
// pointer fields are replaced, never mutated, so shallow copies suffice.
type Store struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	data   state
	faults map[string]error

	Commits   int
	Rollbacks int
}

func NewStore() *Store {
	return &Store{
		data: state{
			patients: map[string]ward.Patient{},
			doctors:  map[string]ward.Doctor{},
			rooms:    map[string]ward.Room{},
			bookings: map[int64]intake.Booking{},
			users:    map[string]admin.User{},
		},
		faults: map[string]error{},
	}
}

// FailOn makes the named operation (e.g. "rooms.Delete") return err until
// cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	return s.faults[op]
}

// WithTx serializes transactions and restores the pre-transaction state when
// fn fails or panics. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.data = snapshot
		s.Rollbacks++
		s.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		rollback()
		return err
	}
	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

func (s *Store) Patients() ward.PatientRepository   { return patientRepo{s} }
func (s *Store) Doctors() ward.DoctorRepository     { return doctorRepo{s} }
func (s *Store) Rooms() ward.RoomRepository         { return roomRepo{s} }
func (s *Store) History() ward.HistoryRepository    { return historyRepo{s} }
func (s *Store) Bookings() intake.BookingRepository { return bookingRepo{s} }
func (s *Store) Users() admin.UserRepository        { return userRepo{s} }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (s *Store) occupant(roomID string) *string {
	for _, p := range s.data.patients {
		if p.RoomID != nil && *p.RoomID == roomID {
			id := p.PatientID
			return &id
		}
	}
	return nil
}

func (s *Store) room(roomID string) ward.Room {
	r := s.data.rooms[roomID]
	r.OccupantID = s.occupant(roomID)
	r.Occupied = r.OccupantID != nil
	return r
}

// -- patients --

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p *ward.Patient) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("patients.Create"); err != nil {
		return err
	}
	if _, ok := s.data.patients[p.PatientID]; ok {
		return fmt.Errorf("patient %s: %w", p.PatientID, ward.ErrDuplicateID)
	}
	if p.AdmissionDate == nil {
		now := time.Now()
		p.AdmissionDate = &now
	}
	s.data.patients[p.PatientID] = *p
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id string) (*ward.Patient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("patients.GetByID"); err != nil {
		return nil, err
	}
	p, ok := s.data.patients[id]
	if !ok {
		return nil, ward.ErrPatientNotFound
	}
	return &p, nil
}

func (r patientRepo) GetDetail(_ context.Context, id string) (*ward.PatientDetail, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.patients[id]
	if !ok {
		return nil, ward.ErrPatientNotFound
	}
	d := &ward.PatientDetail{Patient: p}
	if p.DoctorID != nil {
		if doc, ok := s.data.doctors[*p.DoctorID]; ok {
			d.Doctor = &doc
		}
	}
	if p.RoomID != nil {
		if _, ok := s.data.rooms[*p.RoomID]; ok {
			rm := s.room(*p.RoomID)
			d.Room = &rm
		}
	}
	return d, nil
}

func (r patientRepo) Exists(_ context.Context, id string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.patients[id]
	return ok, nil
}

func (r patientRepo) Update(_ context.Context, p *ward.Patient) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("patients.Update"); err != nil {
		return err
	}
	cur, ok := s.data.patients[p.PatientID]
	if !ok {
		return ward.ErrPatientNotFound
	}
	cur.Name, cur.Age, cur.Address, cur.MedicalHistory = p.Name, p.Age, p.Address, p.MedicalHistory
	if p.AdmissionDate != nil {
		cur.AdmissionDate = p.AdmissionDate
	}
	cur.ImagePath = p.ImagePath
	s.data.patients[p.PatientID] = cur
	return nil
}

func (r patientRepo) Delete(_ context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("patients.Delete"); err != nil {
		return err
	}
	if _, ok := s.data.patients[id]; !ok {
		return ward.ErrPatientNotFound
	}
	delete(s.data.patients, id)
	return nil
}

func (s *Store) sortedPatients(keep func(ward.Patient) bool) []*ward.Patient {
	var out []*ward.Patient
	for _, p := range s.data.patients {
		if keep(p) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PatientID < out[j].PatientID
	})
	return out
}

func (r patientRepo) Search(_ context.Context, f ward.PatientFilter, limit, offset int) ([]*ward.Patient, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedPatients(func(p ward.Patient) bool {
		if f.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Name)) {
			return false
		}
		if f.DoctorID != "" && (p.DoctorID == nil || *p.DoctorID != f.DoctorID) {
			return false
		}
		if f.RoomID != "" && (p.RoomID == nil || *p.RoomID != f.RoomID) {
			return false
		}
		return true
	})
	return page(all, limit, offset), len(all), nil
}

func (r patientRepo) ListByDoctor(_ context.Context, doctorID string) ([]*ward.Patient, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPatients(func(p ward.Patient) bool {
		return p.DoctorID != nil && *p.DoctorID == doctorID
	}), nil
}

func (r patientRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.data.patients), nil
}

func (r patientRepo) SetRoom(_ context.Context, patientID, roomID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("patients.SetRoom"); err != nil {
		return false, err
	}
	if _, ok := s.data.rooms[roomID]; !ok {
		return false, ward.ErrRoomNotFound
	}
	p, ok := s.data.patients[patientID]
	if !ok || p.RoomID != nil || s.occupant(roomID) != nil {
		return false, nil
	}
	id := roomID
	p.RoomID = &id
	s.data.patients[patientID] = p
	return true, nil
}

func (r patientRepo) setRef(op, patientID string, set func(*ward.Patient)) error {
	s := r.s
	if err := s.fault(op); err != nil {
		return err
	}
	p, ok := s.data.patients[patientID]
	if !ok {
		return ward.ErrPatientNotFound
	}
	set(&p)
	s.data.patients[patientID] = p
	return nil
}

func (r patientRepo) ClearRoom(_ context.Context, patientID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.setRef("patients.ClearRoom", patientID, func(p *ward.Patient) { p.RoomID = nil })
}

func (r patientRepo) SetDoctor(_ context.Context, patientID, doctorID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.doctors[doctorID]; !ok {
		return ward.ErrDoctorNotFound
	}
	id := doctorID
	return r.setRef("patients.SetDoctor", patientID, func(p *ward.Patient) { p.DoctorID = &id })
}

func (r patientRepo) ClearDoctor(_ context.Context, patientID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.setRef("patients.ClearDoctor", patientID, func(p *ward.Patient) { p.DoctorID = nil })
}

func (r patientRepo) clearRefs(op string, match func(ward.Patient) bool, clear func(*ward.Patient)) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(op); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range s.data.patients {
		if match(p) {
			clear(&p)
			s.data.patients[id] = p
			n++
		}
	}
	return n, nil
}

func (r patientRepo) ClearRoomRefs(_ context.Context, roomID string) (int64, error) {
	return r.clearRefs("patients.ClearRoomRefs",
		func(p ward.Patient) bool { return p.RoomID != nil && *p.RoomID == roomID },
		func(p *ward.Patient) { p.RoomID = nil })
}

func (r patientRepo) ClearDoctorRefs(_ context.Context, doctorID string) (int64, error) {
	return r.clearRefs("patients.ClearDoctorRefs",
		func(p ward.Patient) bool { return p.DoctorID != nil && *p.DoctorID == doctorID },
		func(p *ward.Patient) { p.DoctorID = nil })
}

// -- doctors --

type doctorRepo struct{ s *Store }

func (r doctorRepo) Create(_ context.Context, d *ward.Doctor) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.doctors[d.DoctorID]; ok {
		return fmt.Errorf("doctor %s: %w", d.DoctorID, ward.ErrDuplicateID)
	}
	s.data.doctors[d.DoctorID] = *d
	return nil
}

func (r doctorRepo) GetByID(_ context.Context, id string) (*ward.Doctor, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.doctors[id]
	if !ok {
		return nil, ward.ErrDoctorNotFound
	}
	return &d, nil
}

func (r doctorRepo) Update(_ context.Context, d *ward.Doctor) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.doctors[d.DoctorID]; !ok {
		return ward.ErrDoctorNotFound
	}
	s.data.doctors[d.DoctorID] = *d
	return nil
}

func (r doctorRepo) Delete(_ context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("doctors.Delete"); err != nil {
		return err
	}
	if _, ok := s.data.doctors[id]; !ok {
		return ward.ErrDoctorNotFound
	}
	delete(s.data.doctors, id)
	return nil
}

func (r doctorRepo) List(_ context.Context, limit, offset int) ([]*ward.Doctor, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ward.Doctor, 0, len(s.data.doctors))
	for _, d := range s.data.doctors {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DoctorID < out[j].DoctorID
	})
	return page(out, limit, offset), len(out), nil
}

// -- rooms --

type roomRepo struct{ s *Store }

func (r roomRepo) Create(_ context.Context, rm *ward.Room) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.rooms[rm.RoomID]; ok {
		return fmt.Errorf("room %s: %w", rm.RoomID, ward.ErrDuplicateID)
	}
	stored := *rm
	stored.Occupied, stored.OccupantID = false, nil
	s.data.rooms[rm.RoomID] = stored
	return nil
}

func (r roomRepo) GetByID(_ context.Context, id string) (*ward.Room, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.rooms[id]; !ok {
		return nil, ward.ErrRoomNotFound
	}
	rm := s.room(id)
	return &rm, nil
}

func (r roomRepo) Update(_ context.Context, rm *ward.Room) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.rooms[rm.RoomID]
	if !ok {
		return ward.ErrRoomNotFound
	}
	cur.RoomType, cur.Price = rm.RoomType, rm.Price
	s.data.rooms[rm.RoomID] = cur
	return nil
}

func (r roomRepo) Delete(_ context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("rooms.Delete"); err != nil {
		return err
	}
	if _, ok := s.data.rooms[id]; !ok {
		return ward.ErrRoomNotFound
	}
	delete(s.data.rooms, id)
	return nil
}

func (r roomRepo) List(_ context.Context, availableOnly bool, limit, offset int) ([]*ward.Room, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ward.Room
	for id := range s.data.rooms {
		rm := s.room(id)
		if availableOnly && rm.Occupied {
			continue
		}
		out = append(out, &rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return page(out, limit, offset), len(out), nil
}

func (r roomRepo) CountOccupancy(_ context.Context) (int, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	occupied := 0
	for id := range s.data.rooms {
		if s.occupant(id) != nil {
			occupied++
		}
	}
	return occupied, len(s.data.rooms), nil
}

// -- history --

type historyRepo struct{ s *Store }

func (r historyRepo) Create(_ context.Context, h *ward.PatientHistory) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("history.Create"); err != nil {
		return err
	}
	s.data.nextHistory++
	h.HistoryID = s.data.nextHistory
	s.data.history = append(s.data.history, *h)
	return nil
}

func (r historyRepo) List(_ context.Context, patientID string, limit, offset int) ([]*ward.PatientHistory, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ward.PatientHistory
	for i := len(s.data.history) - 1; i >= 0; i-- {
		h := s.data.history[i]
		if patientID != "" && h.PatientID != patientID {
			continue
		}
		out = append(out, &h)
	}
	return page(out, limit, offset), len(out), nil
}

// -- bookings --

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(_ context.Context, b *intake.Booking) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("bookings.Create"); err != nil {
		return err
	}
	s.data.nextBooking++
	b.BookingID = s.data.nextBooking
	if b.BookingDate.IsZero() {
		b.BookingDate = time.Now()
	}
	s.data.bookings[b.BookingID] = *b
	return nil
}

func (r bookingRepo) GetByID(_ context.Context, id int64) (*intake.Booking, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.bookings[id]
	if !ok {
		return nil, intake.ErrBookingNotFound
	}
	return &b, nil
}

// GetForUpdate relies on WithTx serializing transactions.
func (r bookingRepo) GetForUpdate(ctx context.Context, id int64) (*intake.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r bookingRepo) Decide(_ context.Context, id int64, status string, patientID *string, at time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("bookings.Decide"); err != nil {
		return false, err
	}
	b, ok := s.data.bookings[id]
	if !ok || b.Status != intake.StatusPending {
		return false, nil
	}
	b.Status, b.PatientID, b.DecidedAt = status, patientID, &at
	s.data.bookings[id] = b
	return true, nil
}

func (r bookingRepo) List(_ context.Context, status string, limit, offset int) ([]*intake.Booking, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*intake.Booking
	for _, b := range s.data.bookings {
		if status != "" && b.Status != status {
			continue
		}
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID > out[j].BookingID })
	return page(out, limit, offset), len(out), nil
}

func (r bookingRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{intake.StatusPending: 0, intake.StatusApproved: 0, intake.StatusRejected: 0}
	for _, b := range s.data.bookings {
		counts[b.Status]++
	}
	return counts, nil
}

// -- users --

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *admin.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.users[u.Username]; ok {
		return admin.ErrUserExists
	}
	s.data.users[u.Username] = *u
	return nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*admin.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[username]
	if !ok {
		return nil, admin.ErrUserNotFound
	}
	return &u, nil
}

func (r userRepo) Delete(_ context.Context, username string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.users[username]; !ok {
		return admin.ErrUserNotFound
	}
	delete(s.data.users, username)
	return nil
}

func (r userRepo) List(_ context.Context, limit, offset int) ([]*admin.User, int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*admin.User, 0, len(s.data.users))
	for _, u := range s.data.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, limit, offset), len(out), nil
}
