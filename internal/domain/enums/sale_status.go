package enums

type SaleStatus string

const (
	SaleStatusPending           SaleStatus = "pending"
	SaleStatusPaymentProcessing SaleStatus = "payment_processing"
	SaleStatusPaymentConfirmed  SaleStatus = "payment_confirmed"
	SaleStatusAnamneseSent      SaleStatus = "anamnese_sent"
	SaleStatusAnamnesePending   SaleStatus = "anamnese_pending"
	SaleStatusStudentCreated    SaleStatus = "student_created"
	SaleStatusFailed            SaleStatus = "failed"
	SaleStatusRefunded          SaleStatus = "refunded"
)

var saleStatusRank = map[SaleStatus]int{
	SaleStatusPending:           0,
	SaleStatusPaymentProcessing: 1,
	SaleStatusPaymentConfirmed:  2,
	SaleStatusAnamnesePending:   3,
	SaleStatusAnamneseSent:      3,
	SaleStatusStudentCreated:    4,
}

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusFailed, SaleStatusRefunded:
		return true
	}
	_, ok := saleStatusRank[s]
	return ok
}

func (s SaleStatus) Terminal() bool {
	return s == SaleStatusFailed || s == SaleStatusRefunded
}

// Rank orders the happy path. Terminal statuses return -1.
func (s SaleStatus) Rank() int {
	rank, ok := saleStatusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanAdvanceTo reports whether a sale in s may move to next.
// Moving to anamnese_sent from the same rank is allowed so a link can be re-sent.
// A failed sale may still be confirmed by a charge that settles late.
func (s SaleStatus) CanAdvanceTo(next SaleStatus) bool {
	if s == SaleStatusFailed && next == SaleStatusPaymentConfirmed {
		return true
	}
	if s.Terminal() || !next.Valid() {
		return false
	}

	switch next {
	case SaleStatusFailed:
		return s.Rank() < SaleStatusPaymentConfirmed.Rank()
	case SaleStatusRefunded:
		return s.Rank() >= SaleStatusPaymentConfirmed.Rank()
	}

	if next == SaleStatusAnamneseSent && s.Rank() == next.Rank() {
		return true
	}
	return next.Rank() > s.Rank()
}

// AllowedFrom lists every status a sale may be in to move to next.
func AllowedFrom(next SaleStatus) []SaleStatus {
	out := make([]SaleStatus, 0, len(allSaleStatuses))
	for _, s := range allSaleStatuses {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	return out
}

var allSaleStatuses = []SaleStatus{
	SaleStatusPending,
	SaleStatusPaymentProcessing,
	SaleStatusPaymentConfirmed,
	SaleStatusAnamneseSent,
	SaleStatusAnamnesePending,
	SaleStatusStudentCreated,
	SaleStatusFailed,
	SaleStatusRefunded,
}
