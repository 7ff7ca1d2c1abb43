package billing

import (
	"fmt"
	"strings"
	"time"
)

// InvoiceWidth is the column width of a formatted invoice.
const InvoiceWidth = 48

const dateLayout = "2006-01-02"

// Charge is the pure result of a stay computation.
type Charge struct {
	StayDays  int     `json:"stay_days"`
	DailyRate float64 `json:"daily_rate"`
	Total     float64 `json:"total"`
}

// Invoice is a bill for one patient stay.
type Invoice struct {
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	RoomID        string    `json:"room_id"`
	RoomType      string    `json:"room_type"`
	AdmissionDate time.Time `json:"admission_date"`
	DischargeDate time.Time `json:"discharge_date"`
	Charge
	// AdmissionDefaulted is set when the patient had no admission date and
	// the bill was computed from today instead.
	AdmissionDefaulted bool `json:"admission_defaulted,omitempty"`
}

// Format renders the invoice as a fixed-width plain-text block.
func (inv *Invoice) Format() string {
	var b strings.Builder
	rule := strings.Repeat("=", InvoiceWidth)
	thin := strings.Repeat("-", InvoiceWidth)

	line := func(s string) {
		b.WriteString(center(s, InvoiceWidth))
		b.WriteByte('\n')
	}
	field := func(label, value string) {
		line(fmt.Sprintf("%-16s%24s", label, value))
	}

	line(rule)
	line("HOSPITAL INVOICE")
	line(rule)
	field("Patient:", inv.PatientName)
	field("Patient ID:", inv.PatientID)
	field("Room:", fmt.Sprintf("%s (%s)", inv.RoomID, inv.RoomType))
	field("Admitted:", inv.AdmissionDate.Format(dateLayout))
	field("Discharged:", inv.DischargeDate.Format(dateLayout))
	field("Stay (days):", fmt.Sprintf("%d", inv.StayDays))
	field("Daily rate:", fmt.Sprintf("%.2f", inv.DailyRate))
	line(thin)
	field("TOTAL DUE:", fmt.Sprintf("%.2f", inv.Total))
	line(rule)
	if inv.AdmissionDefaulted {
		line("* admission date unknown, billed from today")
	}
	return b.String()
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
}
