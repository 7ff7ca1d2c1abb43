package intake

import "testing"

func TestBooking_Final(t *testing.T) {
	for status, want := range map[string]bool{
		StatusPending:  false,
		StatusApproved: true,
		StatusRejected: true,
	} {
		b := &Booking{Status: status}
		if b.Final() != want {
			t.Errorf("Final() for %s = %v, want %v", status, b.Final(), want)
		}
	}
}

func TestBooking_MedicalHistory(t *testing.T) {
	b := &Booking{Symptoms: "fever", Gender: "Other", ContactNumber: "123"}
	want := "Symptoms: fever\nGender: Other\nContact: 123"
	if got := b.MedicalHistory(); got != want {
		t.Errorf("MedicalHistory() = %q, want %q", got, want)
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidStatus(StatusApproved) || ValidStatus("approved") {
		t.Error("status check must be exact")
	}
}
