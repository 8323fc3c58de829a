package appointment

import "time"

// LateCancellationNotice is the minimum notice a patient must give to
// cancel without a fee.
const LateCancellationNotice = 24 * time.Hour

// PolicyResult is the outcome of evaluating the cancellation policy. The
// fee decision and the refund decision are deliberately independent: the
// fee, if any, is a separate ledger entry, never a deduction from the
// refund. The two amounts are audited separately.
type PolicyResult struct {
	FeeApplies     bool `json:"fee_applies"`
	RefundEligible bool `json:"refund_eligible"`
}

// EvaluateCancellation computes the consequences of cancelling the
// appointment at the given instant. A patient-initiated cancellation with
// less than 24 hours of notice incurs a late-cancellation fee; cancellations
// by the provider never incur a fee regardless of notice. A refund is always
// issued when the appointment was paid.
func EvaluateCancellation(appt *Appointment, at time.Time, byProvider bool) PolicyResult {
	notice := appt.ScheduledAt.Sub(at)
	return PolicyResult{
		FeeApplies:     !byProvider && notice < LateCancellationNotice,
		RefundEligible: appt.PaymentStatus == PaymentPaid,
	}
}
