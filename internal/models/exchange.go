package models

import "time"

// Exchange lifecycle states. Only the first three are touched by the
// validation saga; the remaining values belong to the surrounding exchange
// workflow and are listed so state values round-trip untouched.
const (
	StatePendingValidation = "pending-validation"
	StateRequested         = "requested"
	StateRejected          = "rejected"
	StateAccepted          = "accepted"
	StateReturned          = "returned"
	StateCompleted         = "completed"
	StateCancelled         = "cancelled"
)

// Outcome values for a single validation slot.
const (
	OutcomePending = "pending"
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
)

// FactType identifies which independent precondition a checker validates.
type FactType string

const (
	FactUser FactType = "user"
	FactBook FactType = "book"
)

// Valid reports whether the fact type is one the saga knows about.
func (f FactType) Valid() bool {
	return f == FactUser || f == FactBook
}

// Exchange is the parent entity of the validation saga. The two validation
// slots are written independently by the fact checkers; State is transitioned
// exactly once by the finalizer after both slots have resolved.
type Exchange struct {
	ID             string    `json:"id"`
	BookID         string    `json:"book_id"`
	BorrowerID     string    `json:"borrower_id"`
	LenderID       string    `json:"lender_id"`
	UserValidation string    `json:"validation_status_user"`
	BookValidation string    `json:"validation_status_book"`
	State          string    `json:"state"`
	RequestedAt    time.Time `json:"requested_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SlotsResolved reports whether both validation slots are non-pending.
func (e Exchange) SlotsResolved() bool {
	return e.UserValidation != OutcomePending && e.BookValidation != OutcomePending
}

// SlotsValid reports whether both validation slots resolved to valid. Success
// requires unanimity; a single invalid slot vetoes the exchange.
func (e Exchange) SlotsValid() bool {
	return e.UserValidation == OutcomeValid && e.BookValidation == OutcomeValid
}
