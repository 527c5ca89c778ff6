package intake

// Outcome is the result of recording an inbound event in the ledger.
type Outcome string

const (
	// OutcomeNew means the event was seen for the first time and its side
	// effects ran.
	OutcomeNew Outcome = "new"
	// OutcomeDuplicate means the ledger already held the event; nothing was
	// mutated. The sender still gets a success acknowledgment.
	OutcomeDuplicate Outcome = "duplicate"
)

// ProviderStripe is the only payment provider currently wired up.
const ProviderStripe = "stripe"

// Event types the intake interprets. Anything else is recorded and ignored.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventChargeRefunded    = "charge.refunded"
)

// IngestInput is the normalized input for event intake. The payload must
// already be signature-verified; unverified bytes never reach the ledger.
type IngestInput struct {
	Provider    string
	PayloadJSON string
}

// CheckoutCompletedEvent is the parsed shape of a completed checkout.
type CheckoutCompletedEvent struct {
	SessionID     string
	CustomerEmail string
	CustomerName  string
	PriceRef      string
	AmountCents   int64
	Currency      string
}

// ChargeRefundedEvent is the parsed shape of a refund. The checkout session
// reference comes from the charge metadata our checkout flow sets.
type ChargeRefundedEvent struct {
	ChargeID  string
	SessionID string
	Reason    string
}
