package appointment

import (
	"testing"
	"time"
)

func TestEvaluateCancellation(t *testing.T) {
	scheduled := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		notice     time.Duration
		byProvider bool
		payment    PaymentStatus
		wantFee    bool
		wantRefund bool
	}{
		{"patient with ample notice", 25 * time.Hour, false, PaymentPaid, false, true},
		{"patient inside the window", 23 * time.Hour, false, PaymentPaid, true, true},
		{"patient at exactly 24h", 24 * time.Hour, false, PaymentPaid, false, true},
		{"patient last minute, unpaid", time.Hour, false, PaymentPending, true, false},
		{"provider last minute", time.Hour, true, PaymentPaid, false, true},
		{"provider, unpaid", time.Hour, true, PaymentPending, false, false},
		{"failed payment never refunds", 23 * time.Hour, false, PaymentFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := validAppointment()
			appt.ScheduledAt = scheduled
			appt.PaymentStatus = tt.payment

			got := EvaluateCancellation(appt, scheduled.Add(-tt.notice), tt.byProvider)
			if got.FeeApplies != tt.wantFee {
				t.Errorf("FeeApplies = %v, want %v", got.FeeApplies, tt.wantFee)
			}
			if got.RefundEligible != tt.wantRefund {
				t.Errorf("RefundEligible = %v, want %v", got.RefundEligible, tt.wantRefund)
			}
		})
	}
}
