package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/ward"
)

var (
	ErrPatientNotFound = ward.ErrPatientNotFound
	ErrNoRoomAssigned  = errors.New("patient has no room assigned")
	ErrNegativeStay    = errors.New("discharge date precedes admission date")
)

const day = 24 * time.Hour

// Compute bills a stay. Days are counted between calendar dates, so the
// time of day never matters; a same-day stay bills one day.
func Compute(admission, discharge time.Time, dailyRate float64) (Charge, error) {
	days := int(calendarDate(discharge).Sub(calendarDate(admission)) / day)
	if days < 0 {
		return Charge{}, fmt.Errorf("%w: %s before %s", ErrNegativeStay,
			discharge.Format(dateLayout), admission.Format(dateLayout))
	}
	if days == 0 {
		days = 1
	}
	return Charge{StayDays: days, DailyRate: dailyRate, Total: float64(days) * dailyRate}, nil
}

// ComputeForType is Compute with the tariff of roomType.
func ComputeForType(admission, discharge time.Time, roomType string) (Charge, error) {
	return Compute(admission, discharge, ward.RateForType(roomType))
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Engine produces invoices from stored patient state. It never writes.
type Engine struct {
	patients PatientLookup
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(patients PatientLookup, logger zerolog.Logger) *Engine {
	return &Engine{
		patients: patients,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for a missing admission date.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Bill computes the invoice for patientID as if discharged on discharge.
func (e *Engine) Bill(ctx context.Context, patientID string, discharge time.Time) (*Invoice, error) {
	d, err := e.patients.GetPatientDetail(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if d.Room == nil {
		return nil, fmt.Errorf("bill patient %s: %w", patientID, ErrNoRoomAssigned)
	}

	inv := &Invoice{
		PatientID:     d.PatientID,
		PatientName:   d.Name,
		RoomID:        d.Room.RoomID,
		RoomType:      d.Room.RoomType,
		DischargeDate: discharge,
	}
	if d.AdmissionDate != nil {
		inv.AdmissionDate = *d.AdmissionDate
	} else {
		inv.AdmissionDate = e.now()
		inv.AdmissionDefaulted = true
		e.logger.Warn().Str("patient_id", patientID).Msg("admission date missing, billing from today")
	}

	charge, err := Compute(inv.AdmissionDate, discharge, d.Room.DailyRate())
	if err != nil {
		return nil, err
	}
	inv.Charge = charge
	return inv, nil
}
