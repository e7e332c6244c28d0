package labelparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/model"
)

func TestParse(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want model.ParsedLabel
	}{
		{
			name: "card payment with compact date and card id",
			in:   "FACTURE CARTE — DU 140126 PARK TRIVAUX BS MEUDON CARTE 4974XXXXXXXX3769",
			want: model.ParsedLabel{
				PaymentMode:   "FACTURE CARTE",
				PaymentType:   model.PaymentCard,
				Counterparty:  "PARK TRIVAUX BS MEUDON",
				CardID:        "4974XXXXXXXX3769",
				OperationDate: "2026-01-14",
				RawDetails:    "DU 140126 PARK TRIVAUX BS MEUDON CARTE 4974XXXXXXXX3769",
			},
		},
		{
			name: "sepa transfer",
			in:   "VIREMENT SEPA — CPAM DES HAUTS DE SEINE",
			want: model.ParsedLabel{
				PaymentMode:  "VIREMENT SEPA",
				PaymentType:  model.PaymentTransfer,
				Counterparty: "CPAM DES HAUTS DE SEINE",
				RawDetails:   "CPAM DES HAUTS DE SEINE",
			},
		},
		{
			name: "short card prefix with trailing date, year from clock",
			in:   "CB LECLERC 25/01",
			want: model.ParsedLabel{
				PaymentMode:   "CB",
				PaymentType:   model.PaymentCard,
				Counterparty:  "LECLERC",
				OperationDate: "2026-01-25",
				RawDetails:    "LECLERC 25/01",
			},
		},
		{
			name: "incoming transfer beats generic transfer",
			in:   "VIR SEPA RECU — EMPLOYEUR SARL",
			want: model.ParsedLabel{
				PaymentMode:  "VIR SEPA RECU",
				PaymentType:  model.PaymentTransferIn,
				Counterparty: "EMPLOYEUR SARL",
				RawDetails:   "EMPLOYEUR SARL",
			},
		},
		{
			name: "direct debit with trailing reference stripped",
			in:   "PRLV SEPA — EDF CLIENTS REF: 1234ABC",
			want: model.ParsedLabel{
				PaymentMode:  "PRLV SEPA",
				PaymentType:  model.PaymentDirectDebit,
				Counterparty: "EDF CLIENTS",
				RawDetails:   "EDF CLIENTS REF: 1234ABC",
			},
		},
		{
			name: "check with number",
			in:   "CHEQUE — N° 1234567",
			want: model.ParsedLabel{
				PaymentMode:  "CHEQUE",
				PaymentType:  model.PaymentCheck,
				CheckNumber:  "1234567",
				Counterparty: "N° 1234567",
				RawDetails:   "N° 1234567",
			},
		},
		{
			name: "slashed date prefix with four digit year",
			in:   "PAIEMENT PAR CARTE — DU 03/02/2025 BOULANGERIE PAUL",
			want: model.ParsedLabel{
				PaymentMode:   "PAIEMENT PAR CARTE",
				PaymentType:   model.PaymentCard,
				Counterparty:  "BOULANGERIE PAUL",
				OperationDate: "2025-02-03",
				RawDetails:    "DU 03/02/2025 BOULANGERIE PAUL",
			},
		},
		{
			name: "no known mode degrades to whole label",
			in:   "MYSTERY OPERATION 42",
			want: model.ParsedLabel{
				Counterparty: "MYSTERY OPERATION 42",
				RawDetails:   "MYSTERY OPERATION 42",
			},
		},
		{
			name: "mode without details keeps counterparty empty",
			in:   "COTISATION",
			want: model.ParsedLabel{
				PaymentMode: "COTISATION",
				PaymentType: model.PaymentFee,
			},
		},
		{
			name: "whitespace collapsed",
			in:   "  VIREMENT   —   ACME    CORP  ",
			want: model.ParsedLabel{
				PaymentMode:  "VIREMENT",
				PaymentType:  model.PaymentTransfer,
				Counterparty: "ACME CORP",
				RawDetails:   "ACME CORP",
			},
		},
		{
			name: "empty input",
			in:   "   ",
			want: model.ParsedLabel{},
		},
		{
			name: "no separator but mode prefix detected",
			in:   "RETRAIT DAB PARIS 15EME",
			want: model.ParsedLabel{
				PaymentMode:  "RETRAIT DAB",
				PaymentType:  model.PaymentATM,
				Counterparty: "PARIS 15EME",
				RawDetails:   "PARIS 15EME",
			},
		},
		{
			name: "invalid embedded date is dropped",
			in:   "FACTURE CARTE — DU 300226 SOMEWHERE",
			want: model.ParsedLabel{
				PaymentMode:  "FACTURE CARTE",
				PaymentType:  model.PaymentCard,
				Counterparty: "SOMEWHERE",
				RawDetails:   "DU 300226 SOMEWHERE",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseAt(tt.in, now)
			require.NotNil(t, got)
			tt.want.Version = model.ParsedLabelVersion
			assert.Equal(t, &tt.want, got)
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	labels := []string{
		"FACTURE CARTE — DU 140126 PARK TRIVAUX BS MEUDON CARTE 4974XXXXXXXX3769",
		"VIREMENT SEPA — CPAM DES HAUTS DE SEINE",
		"CB LECLERC 25/01",
		"PRLV SEPA — EDF CLIENTS REF: 1234ABC",
		"RANDOM TEXT WITHOUT STRUCTURE",
	}

	for _, label := range labels {
		first := Parse(label)
		if first.Counterparty == "" {
			continue
		}
		second := Parse(first.Counterparty)
		assert.Equal(t, first.Counterparty, second.Counterparty, "label %q", label)
		assert.Empty(t, second.CardID)
		assert.Empty(t, second.OperationDate)
		assert.Empty(t, second.CheckNumber)
	}
}

func TestEmbeddingText(t *testing.T) {
	parsed := Parse("VIREMENT SEPA — CPAM DES HAUTS DE SEINE")
	assert.Equal(t, "CPAM DES HAUTS DE SEINE", EmbeddingText(parsed, "whatever"))

	assert.Equal(t, "RAW LABEL", EmbeddingText(nil, "RAW LABEL"))
	assert.Equal(t, "RAW LABEL", EmbeddingText(&model.ParsedLabel{}, "RAW LABEL"))
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	for _, in := range []string{"", "—", " - ", "CARTE", "DU 999999", "N°"} {
		assert.NotPanics(t, func() { Parse(in) }, "input %q", in)
	}
}
