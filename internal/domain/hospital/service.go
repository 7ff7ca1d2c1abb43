// Package hospital is the single entry point the API and CLI use for
// workflows that span several entities. It composes the relationship
// manager, the booking workflow and the billing engine, and reports every
// committed change as an event.
package hospital

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/telemetry"
)

// ErrUnsupportedImage is returned for uploads that are not png, jpeg, gif
// or webp.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Facade holds no state of its own beyond its collaborators.
type Facade struct {
	ward    *ward.Manager
	intake  *intake.Workflow
	billing *billing.Engine
	events  events.Publisher
	files   blobstore.Store
	metrics *telemetry.Provider
	logger  zerolog.Logger
}

func NewFacade(wm *ward.Manager, wf *intake.Workflow, engine *billing.Engine,
	pub events.Publisher, files blobstore.Store, metrics *telemetry.Provider, logger zerolog.Logger) *Facade {
	return &Facade{
		ward:    wm,
		intake:  wf,
		billing: engine,
		events:  pub,
		files:   files,
		metrics: metrics,
		logger:  logger.With().Str("component", "hospital").Logger(),
	}
}

// Discharge is the outcome of a discharge. Invoice is nil when the patient
// had no room and nothing was billed.
type Discharge struct {
	History    *ward.PatientHistory `json:"history"`
	Invoice    *billing.Invoice     `json:"invoice,omitempty"`
	ArchiveKey string               `json:"archive_key,omitempty"`
}

// Dashboard is a point-in-time summary of the hospital.
type Dashboard struct {
	Patients        int `json:"patients"`
	Doctors         int `json:"doctors"`
	Rooms           int `json:"rooms"`
	OccupiedRooms   int `json:"occupied_rooms"`
	AvailableRooms  int `json:"available_rooms"`
	PendingBookings int `json:"pending_bookings"`
}

// publish runs after the change it describes has committed, so a broker
// failure is logged and counted but never reported to the caller.
func (f *Facade) publish(ctx context.Context, eventType, entityID string, data interface{}) {
	evt, err := events.New(eventType, entityID, data)
	if err == nil {
		err = f.events.Publish(ctx, evt)
	}
	f.metrics.Operation("publish_event", err)
	if err != nil {
		f.logger.Warn().Err(err).Str("event", eventType).Str("entity_id", entityID).Msg("event not published")
	}
}

// -- Relationships --

func (f *Facade) AssignRoom(ctx context.Context, patientID, roomID string) error {
	err := f.ward.AssignPatientToRoom(ctx, patientID, roomID)
	f.metrics.Operation("assign_room", err)
	if err != nil {
		return err
	}
	f.publish(ctx, events.PatientAssigned, patientID, map[string]string{"room_id": roomID})
	return nil
}

func (f *Facade) AssignDoctor(ctx context.Context, patientID, doctorID string) error {
	err := f.ward.AssignPatientToDoctor(ctx, patientID, doctorID)
	f.metrics.Operation("assign_doctor", err)
	if err != nil {
		return err
	}
	f.publish(ctx, events.PatientAssigned, patientID, map[string]string{"doctor_id": doctorID})
	return nil
}

func (f *Facade) UnassignRoom(ctx context.Context, patientID string) error {
	err := f.ward.UnassignRoom(ctx, patientID)
	f.metrics.Operation("unassign_room", err)
	return err
}

func (f *Facade) UnassignDoctor(ctx context.Context, patientID string) error {
	err := f.ward.UnassignDoctor(ctx, patientID)
	f.metrics.Operation("unassign_doctor", err)
	return err
}

// -- Discharge and billing --

// Discharge bills the stay when a room is assigned, archives the patient
// with the billed total, then stores the printed invoice under
// invoices/<patientID>/<date>.txt.
func (f *Facade) Discharge(ctx context.Context, patientID string, dischargedAt time.Time) (*Discharge, error) {
	out := &Discharge{}

	inv, err := f.billing.Bill(ctx, patientID, dischargedAt)
	switch {
	case err == nil:
		out.Invoice = inv
	case errors.Is(err, billing.ErrNoRoomAssigned):
		f.logger.Info().Str("patient_id", patientID).Msg("discharging without a room, nothing billed")
	default:
		f.metrics.Operation("discharge", err)
		return nil, err
	}

	var billed *float64
	if out.Invoice != nil {
		total := out.Invoice.Total
		billed = &total
	}
	out.History, err = f.ward.DischargePatient(ctx, patientID, dischargedAt, billed)
	f.metrics.Operation("discharge", err)
	if err != nil {
		return nil, err
	}

	if out.Invoice != nil {
		f.metrics.Billed(out.Invoice.StayDays, out.Invoice.Total)
		out.ArchiveKey = f.archiveInvoice(ctx, out.Invoice)
	}
	f.publish(ctx, events.PatientDischarged, patientID, out)
	return out, nil
}

func (f *Facade) archiveInvoice(ctx context.Context, inv *billing.Invoice) string {
	key := fmt.Sprintf("invoices/%s/%s.txt", inv.PatientID, inv.DischargeDate.Format("2006-01-02"))
	if _, err := f.files.Put(ctx, key, "text/plain", strings.NewReader(inv.Format())); err != nil {
		f.logger.Warn().Err(err).Str("patient_id", inv.PatientID).Str("key", key).Msg("invoice not archived")
		return ""
	}
	return key
}

// Invoice previews the bill for a discharge on dischargeDate without
// discharging.
func (f *Facade) Invoice(ctx context.Context, patientID string, dischargeDate time.Time) (*billing.Invoice, error) {
	return f.billing.Bill(ctx, patientID, dischargeDate)
}

// -- Bookings --

// SubmitBooking accepts a public intake request.
func (f *Facade) SubmitBooking(ctx context.Context, b *intake.Booking) error {
	err := f.intake.CreateBooking(ctx, b)
	f.metrics.Operation("submit_booking", err)
	if err != nil {
		return err
	}
	f.publish(ctx, events.BookingCreated, bookingKey(b.BookingID), b)
	return nil
}

func (f *Facade) ApproveBooking(ctx context.Context, id int64) (*intake.Approval, error) {
	a, err := f.intake.ApproveBooking(ctx, id)
	f.metrics.Operation("approve_booking", err)
	if err != nil {
		return nil, err
	}
	f.metrics.BookingDecided(intake.StatusApproved)
	f.publish(ctx, events.BookingApproved, bookingKey(id), a)
	return a, nil
}

func (f *Facade) RejectBooking(ctx context.Context, id int64) (*intake.Booking, error) {
	b, err := f.intake.RejectBooking(ctx, id)
	f.metrics.Operation("reject_booking", err)
	if err != nil {
		return nil, err
	}
	f.metrics.BookingDecided(intake.StatusRejected)
	f.publish(ctx, events.BookingRejected, bookingKey(id), b)
	return b, nil
}

func bookingKey(id int64) string {
	return fmt.Sprintf("booking-%d", id)
}

// -- Deletes --

func (f *Facade) DeleteDoctor(ctx context.Context, doctorID string) (int64, error) {
	released, err := f.ward.DeleteDoctor(ctx, doctorID)
	f.metrics.Operation("delete_doctor", err)
	if err != nil {
		return 0, err
	}
	f.publish(ctx, events.DoctorDeleted, doctorID, map[string]int64{"released_patients": released})
	return released, nil
}

func (f *Facade) DeleteRoom(ctx context.Context, roomID string) (int64, error) {
	released, err := f.ward.DeleteRoom(ctx, roomID)
	f.metrics.Operation("delete_room", err)
	if err != nil {
		return 0, err
	}
	f.publish(ctx, events.RoomDeleted, roomID, map[string]int64{"released_patients": released})
	return released, nil
}

// -- Reads --

// PatientOverview returns the patient with its doctor and room.
func (f *Facade) PatientOverview(ctx context.Context, patientID string) (*ward.PatientDetail, error) {
	return f.ward.GetPatientDetail(ctx, patientID)
}

func (f *Facade) Dashboard(ctx context.Context) (*Dashboard, error) {
	patients, err := f.ward.CountPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	_, doctors, err := f.ward.ListDoctors(ctx, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("count doctors: %w", err)
	}
	occupied, rooms, err := f.ward.RoomOccupancy(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rooms: %w", err)
	}
	counts, err := f.intake.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}

	f.metrics.SetOccupiedRooms(occupied)
	return &Dashboard{
		Patients:        patients,
		Doctors:         doctors,
		Rooms:           rooms,
		OccupiedRooms:   occupied,
		AvailableRooms:  rooms - occupied,
		PendingBookings: counts[intake.StatusPending],
	}, nil
}

// -- Images --

// SetPatientImage stores the upload under images/patients/<id>.<ext> and
// records the key on the patient.
func (f *Facade) SetPatientImage(ctx context.Context, patientID, contentType string, r io.Reader) (string, error) {
	if _, err := f.ward.GetPatient(ctx, patientID); err != nil {
		return "", err
	}
	return f.storeImage(ctx, "patients", patientID, contentType, r, f.ward.SetPatientImage)
}

// SetDoctorImage stores the upload under images/doctors/<id>.<ext>.
func (f *Facade) SetDoctorImage(ctx context.Context, doctorID, contentType string, r io.Reader) (string, error) {
	if _, err := f.ward.GetDoctor(ctx, doctorID); err != nil {
		return "", err
	}
	return f.storeImage(ctx, "doctors", doctorID, contentType, r, f.ward.SetDoctorImage)
}

func (f *Facade) storeImage(ctx context.Context, kind, id, contentType string, r io.Reader,
	record func(ctx context.Context, id, key string) error) (string, error) {
	ext, ok := imageExt[strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}

	key := fmt.Sprintf("images/%s/%s.%s", kind, id, ext)
	if _, err := f.files.Put(ctx, key, contentType, r); err != nil {
		return "", err
	}
	if err := record(ctx, id, key); err != nil {
		if derr := f.files.Delete(ctx, key); derr != nil {
			f.logger.Warn().Err(derr).Str("key", key).Msg("orphaned image not removed")
		}
		return "", err
	}
	f.logger.Info().Str("key", key).Msg("image stored")
	return key, nil
}

// CanReadFile guards archive downloads. Staff and admins read every key. A
// doctor reads images of doctors, plus the image and invoices of patients
// assigned to them now or at discharge.
func (f *Facade) CanReadFile(ctx context.Context, key string) (bool, error) {
	doctorOnly, linked := ward.DoctorScope(ctx)
	if !doctorOnly {
		return true, nil
	}
	if linked == "" {
		return false, nil
	}

	patientID, ok := patientOfKey(key)
	if !ok {
		return strings.HasPrefix(key, "images/doctors/"), nil
	}

	p, err := f.ward.GetPatient(ctx, patientID)
	switch {
	case err == nil:
		return ward.CanView(ctx, p), nil
	case !errors.Is(err, ward.ErrPatientNotFound):
		return false, err
	}
	return f.treatedAtDischarge(ctx, patientID, linked)
}

func (f *Facade) treatedAtDischarge(ctx context.Context, patientID, doctorID string) (bool, error) {
	const page = 50
	for offset := 0; ; offset += page {
		rows, total, err := f.ward.ListHistory(ctx, patientID, page, offset)
		if err != nil {
			return false, err
		}
		for _, h := range rows {
			if h.DoctorID != nil && *h.DoctorID == doctorID {
				return true, nil
			}
		}
		if len(rows) == 0 || offset+len(rows) >= total {
			return false, nil
		}
	}
}

// patientOfKey extracts the patient id from invoices/<id>/<file> and
// images/patients/<id>.<ext>.
func patientOfKey(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", false
	}
	switch {
	case parts[0] == "invoices" && parts[1] != "":
		return parts[1], true
	case parts[0] == "images" && parts[1] == "patients":
		id := strings.TrimSuffix(parts[2], path.Ext(parts[2]))
		return id, id != ""
	}
	return "", false
}
