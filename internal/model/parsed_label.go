package model

// PaymentType is the normalized payment channel code extracted from a label.
type PaymentType string

// Payment type constants.
const (
	PaymentCard         PaymentType = "card"
	PaymentTransfer     PaymentType = "transfer"
	PaymentTransferIn   PaymentType = "transfer_in"
	PaymentDirectDebit  PaymentType = "direct_debit"
	PaymentATM          PaymentType = "atm"
	PaymentCheck        PaymentType = "check"
	PaymentCheckDeposit PaymentType = "check_deposit"
	PaymentFee          PaymentType = "fee"
	PaymentSubscription PaymentType = "subscription"
	PaymentRefund       PaymentType = "refund"
	PaymentCredit       PaymentType = "credit"
)

// ParsedLabelVersion is the current ParsedLabel schema version.
const ParsedLabelVersion = 1

// ParsedLabel is the structured metadata extracted from a raw bank label.
// All fields except Version are optional; an unparseable label degrades to
// Counterparty holding the whole text. Persisted as JSON with an explicit
// schema version so old rows stay readable after field changes.
type ParsedLabel struct {
	PaymentMode   string      `json:"payment_mode,omitempty"`
	PaymentType   PaymentType `json:"payment_type,omitempty"`
	Counterparty  string      `json:"counterparty,omitempty"`
	CardID        string      `json:"card_id,omitempty"`
	OperationDate string      `json:"operation_date,omitempty"` // ISO date
	CheckNumber   string      `json:"check_number,omitempty"`
	RawDetails    string      `json:"raw_details,omitempty"`
	Version       int         `json:"v"`
}

// Empty reports whether parsing extracted nothing beyond the raw text.
func (p *ParsedLabel) Empty() bool {
	return p == nil || (p.PaymentMode == "" && p.Counterparty == "" &&
		p.CardID == "" && p.OperationDate == "" && p.CheckNumber == "")
}
