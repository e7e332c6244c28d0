// Package labelparse extracts structured metadata from raw bank labels.
//
// French bank labels typically follow the format:
//
//	<PAYMENT_MODE> — <DETAILS>
//
// where the details may contain a date prefix ("DU 140126"), a counterparty
// name, a masked card identifier ("CARTE 4974XXXXXXXX3769") and trailing
// reference tokens. Parsing is pure and never fails: unmatched input
// degrades to a result whose counterparty is the whole label.
package labelparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mlecarme/spendsort/internal/model"
)

// paymentMode maps a mode string to its normalized type code. The table is
// ordered longest-first so specific modes win over their prefixes
// ("PAIEMENT PAR CARTE" before "CB").
type paymentMode struct {
	label string
	code  model.PaymentType
}

var paymentModes = []paymentMode{
	// Card payments.
	{"PAIEMENT PAR CARTE", model.PaymentCard},
	{"PAIEMENT CARTE", model.PaymentCard},
	{"FACTURE CARTE", model.PaymentCard},
	{"CARTE BANCAIRE", model.PaymentCard},
	// Transfers.
	{"VIREMENT SEPA RECU", model.PaymentTransferIn},
	{"VIREMENT SEPA", model.PaymentTransfer},
	{"VIR SEPA RECU", model.PaymentTransferIn},
	{"VIR INST RECU", model.PaymentTransferIn},
	{"VIR SEPA", model.PaymentTransfer},
	{"VIR INST", model.PaymentTransfer},
	{"VIREMENT RECU", model.PaymentTransferIn},
	{"VIR RECU", model.PaymentTransferIn},
	{"VIREMENT", model.PaymentTransfer},
	{"VIR", model.PaymentTransfer},
	// Direct debit.
	{"PRELEVEMENT SEPA", model.PaymentDirectDebit},
	{"PRLV SEPA", model.PaymentDirectDebit},
	{"PRELEVEMENT", model.PaymentDirectDebit},
	{"PRLV", model.PaymentDirectDebit},
	// ATM withdrawal.
	{"RETRAIT DAB", model.PaymentATM},
	{"RETRAIT", model.PaymentATM},
	// Checks.
	{"REMISE DE CHEQUE", model.PaymentCheckDeposit},
	{"REMISE DE CHQ", model.PaymentCheckDeposit},
	{"REMISE CHQ", model.PaymentCheckDeposit},
	{"CHEQUE", model.PaymentCheck},
	{"CHQ", model.PaymentCheck},
	// Fees and other.
	{"COTISATION", model.PaymentFee},
	{"COMMISSION", model.PaymentFee},
	{"FRAIS", model.PaymentFee},
	{"ABONNEMENT", model.PaymentSubscription},
	{"REMBOURSEMENT", model.PaymentRefund},
	{"AVOIR", model.PaymentCredit},
	// Short card prefix, after every longer match.
	{"CB", model.PaymentCard},
}

var (
	// Separator between mode and details: em dash, en dash, or spaced hyphen.
	separatorRe = regexp.MustCompile(`\s*[—–]\s*|\s+-\s+`)

	// Date prefix "DU DDMMYY ".
	datePrefixCompactRe = regexp.MustCompile(`(?i)^DU\s+(\d{2})(\d{2})(\d{2})\s+`)

	// Date prefix "DU DD/MM/YY " or "DU DD/MM/YYYY ".
	datePrefixSlashRe = regexp.MustCompile(`(?i)^DU\s+(\d{2})/(\d{2})/(\d{2,4})\s+`)

	// Trailing inline date " DD/MM" or " DD/MM/YY".
	dateTrailingRe = regexp.MustCompile(`\s+(\d{2})/(\d{2})(?:/(\d{2,4}))?\s*$`)

	// Card identifier at end: "CARTE 4974XXXXXXXX3769" or "CARTE 4974****3769".
	cardSuffixRe = regexp.MustCompile(`(?i)\s+CARTE\s+(\d{4}[\dX*]{4,}[\dX*]*\d{0,4})\s*$`)

	// Card identifier inline (not at end).
	cardInlineRe = regexp.MustCompile(`(?i)\bCARTE\s+(\d{4}[\dX*]{4,}[\dX*]*\d{0,4})\b`)

	// Trailing reference tokens ("REF: ABC123", "N° 42", "ID X/Y-2").
	refTrailingRe = regexp.MustCompile(`(?i)\s+(?:REF|ID|N[°O]?)\s*[:.]?\s*[\w/-]+\s*$`)

	// Check number "N° 1234567" or "NO 1234567".
	checkNumRe = regexp.MustCompile(`(?i)N[°O]?\s*(\d+)`)

	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// Parse extracts structured metadata from a raw bank label. The result is
// never nil and Parse never errors; see the package comment for the
// degradation policy. Parsing is idempotent: re-parsing a clean
// counterparty extracts nothing further.
func Parse(labelRaw string) *model.ParsedLabel {
	return parseAt(labelRaw, time.Now())
}

// parseAt is Parse with an injectable clock for year-less trailing dates.
func parseAt(labelRaw string, now time.Time) *model.ParsedLabel {
	result := &model.ParsedLabel{Version: model.ParsedLabelVersion}

	label := multiSpaceRe.ReplaceAllString(strings.TrimSpace(labelRaw), " ")
	if label == "" {
		return result
	}

	// Step 1: split mode from details on the separator, else try a known
	// mode prefix directly.
	var modePart, details string
	if loc := separatorRe.FindStringIndex(label); loc != nil {
		modePart = strings.TrimSpace(label[:loc[0]])
		details = strings.TrimSpace(label[loc[1]:])
	} else {
		modePart, details = extractModePrefix(label)
	}

	// Step 2: identify the payment mode.
	mode, code := matchPaymentMode(modePart)
	result.PaymentMode = mode
	result.PaymentType = code

	// A matched mode that did not consume its whole segment pushes the
	// remainder into the details.
	if mode != "" && modePart != "" {
		remainder := strings.TrimSpace(modePart[len(mode):])
		if remainder != "" {
			if details != "" {
				details = remainder + " " + details
			} else {
				details = remainder
			}
		}
	}

	if details == "" {
		if mode == "" {
			result.Counterparty = label
		}
		return result
	}

	result.RawDetails = details

	// Step 3: extract a masked card id, trailing first, then inline.
	if m := cardSuffixRe.FindStringSubmatchIndex(details); m != nil {
		result.CardID = details[m[2]:m[3]]
		details = strings.TrimSpace(details[:m[0]])
	} else if m := cardInlineRe.FindStringSubmatchIndex(details); m != nil {
		result.CardID = details[m[2]:m[3]]
		details = strings.TrimSpace(details[:m[0]] + " " + details[m[1]:])
	}

	// Step 4: extract an embedded date.
	if m := datePrefixCompactRe.FindStringSubmatch(details); m != nil {
		result.OperationDate = isoDate(m[1], m[2], m[3], now)
		details = strings.TrimSpace(details[len(m[0]):])
	} else if m := datePrefixSlashRe.FindStringSubmatch(details); m != nil {
		result.OperationDate = isoDate(m[1], m[2], m[3], now)
		details = strings.TrimSpace(details[len(m[0]):])
	} else if m := dateTrailingRe.FindStringSubmatchIndex(details); m != nil {
		yy := ""
		if m[6] >= 0 {
			yy = details[m[6]:m[7]]
		}
		result.OperationDate = isoDate(details[m[2]:m[3]], details[m[4]:m[5]], yy, now)
		details = strings.TrimSpace(details[:m[0]])
	}

	// Step 5: extract the check number for check-type transactions.
	if code == model.PaymentCheck || code == model.PaymentCheckDeposit {
		if m := checkNumRe.FindStringSubmatch(details); m != nil {
			result.CheckNumber = m[1]
		}
	}

	// Step 6: strip trailing reference tokens.
	details = strings.TrimSpace(refTrailingRe.ReplaceAllString(details, ""))

	// Step 7: whatever remains is the counterparty.
	result.Counterparty = multiSpaceRe.ReplaceAllString(details, " ")

	return result
}

// EmbeddingText returns the cleaned text used for embedding computation.
// The counterparty is preferred over the raw label since it is the most
// semantically stable part.
func EmbeddingText(parsed *model.ParsedLabel, labelRaw string) string {
	if parsed != nil && parsed.Counterparty != "" {
		return parsed.Counterparty
	}
	return labelRaw
}

func matchPaymentMode(text string) (string, model.PaymentType) {
	if text == "" {
		return "", ""
	}
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, pm := range paymentModes {
		if upper == pm.label || strings.HasPrefix(upper, pm.label) {
			return pm.label, pm.code
		}
	}
	return "", ""
}

// extractModePrefix finds a payment mode at the beginning of a label that
// has no separator. Returns the mode segment (possibly empty) and the
// remaining details.
func extractModePrefix(label string) (string, string) {
	upper := strings.ToUpper(label)
	for _, pm := range paymentModes {
		if strings.HasPrefix(upper, pm.label+" ") {
			return label[:len(pm.label)], strings.TrimSpace(label[len(pm.label):])
		}
		if upper == pm.label {
			return label, ""
		}
	}
	return "", label
}

// isoDate converts day/month/year strings to an ISO date. Two-digit years
// get 2000 added; a missing year uses the current year. Invalid component
// combinations yield an empty string.
func isoDate(dd, mm, yy string, now time.Time) string {
	day, err := strconv.Atoi(dd)
	if err != nil {
		return ""
	}
	month, err := strconv.Atoi(mm)
	if err != nil {
		return ""
	}
	year := now.Year()
	if yy != "" {
		year, err = strconv.Atoi(yy)
		if err != nil {
			return ""
		}
		if year < 100 {
			year += 2000
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like Feb 30.
	if d.Day() != day || int(d.Month()) != month {
		return ""
	}
	return d.Format("2006-01-02")
}
