package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type bookingRepoPG struct {
	pool *pgxpool.Pool
}

func NewBookingRepo(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const bookingColumns = `booking_id, patient_name, age, gender, contact_number, symptoms,
	doctor_id, room_id, status, booking_date, patient_id, decided_at`

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bookings (patient_name, age, gender, contact_number, symptoms, doctor_id, room_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING booking_id, booking_date`,
		b.PatientName, b.Age, b.Gender, b.ContactNumber, b.Symptoms,
		b.RequestedDoctorID, b.RequestedRoomID, b.Status,
	).Scan(&b.BookingID, &b.BookingDate)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id int64) (*Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1`, id)
}

func (r *bookingRepoPG) GetForUpdate(ctx context.Context, id int64) (*Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_id = $1 FOR UPDATE`, id)
}

func (r *bookingRepoPG) get(ctx context.Context, query string, id int64) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (r *bookingRepoPG) Decide(ctx context.Context, id int64, status string, patientID *string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET status = $2, patient_id = $3, decided_at = $4
		WHERE booking_id = $1 AND status = 'PENDING'`,
		id, status, patientID, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*Booking, int, error) {
	where := ``
	var args []interface{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + bookingColumns + ` FROM bookings` + where +
		fmt.Sprintf(` ORDER BY booking_date DESC, booking_id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, b)
	}
	return bookings, total, rows.Err()
}

func (r *bookingRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{StatusPending: 0, StatusApproved: 0, StatusRejected: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.BookingID, &b.PatientName, &b.Age, &b.Gender, &b.ContactNumber, &b.Symptoms,
		&b.RequestedDoctorID, &b.RequestedRoomID, &b.Status, &b.BookingDate, &b.PatientID, &b.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
