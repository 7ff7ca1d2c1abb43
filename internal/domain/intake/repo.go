package intake

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBookingNotFound  = errors.New("booking not found")
	ErrBookingFinalized = errors.New("booking is no longer pending")
	ErrInvalid          = errors.New("invalid booking")
)

// BookingRepository defines the persistence interface for bookings.
type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id int64) (*Booking, error)
	// GetForUpdate reads the booking and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Booking, error)
	// Decide moves a PENDING booking to status. It reports false when the
	// booking was not pending anymore.
	Decide(ctx context.Context, id int64, status string, patientID *string, at time.Time) (bool, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Booking, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
