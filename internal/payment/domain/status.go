package domain

// PaymentStatus represents transaction lifecycle states.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusVoided     PaymentStatus = "VOIDED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

// legalTransitions is the authoritative transition table. Every aggregate
// mutation consults it before touching any field.
var legalTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusVoided},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusVoided},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {},
	StatusVoided:     {},
	StatusRefunded:   {},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from the status.
func (s PaymentStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// RefundStatus represents refund lifecycle states.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// TransactionKind enumerates the supported transaction kinds.
type TransactionKind string

const (
	KindCharge    TransactionKind = "charge"
	KindAuthorize TransactionKind = "authorize"
	KindCapture   TransactionKind = "capture"
	KindVoid      TransactionKind = "void"
)

// ValidKind reports whether the kind is one of the enumerated values.
func ValidKind(kind TransactionKind) bool {
	switch kind {
	case KindCharge, KindAuthorize, KindCapture, KindVoid:
		return true
	default:
		return false
	}
}
