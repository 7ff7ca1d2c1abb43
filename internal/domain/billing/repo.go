package billing

import (
	"context"

	"github.com/hms/hms/internal/domain/ward"
)

// PatientLookup reads the patient joined with its room. *ward.Manager
// satisfies it.
type PatientLookup interface {
	GetPatientDetail(ctx context.Context, id string) (*ward.PatientDetail, error)
}
