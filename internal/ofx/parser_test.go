package ofx

import (
	"strings"
	"testing"

	"github.com/aclindsa/ofxgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>Info
</STATUS>
<DTSERVER>20260401000000
<LANGUAGE>FRA
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>EUR
<BANKACCTFROM>
<BANKID>30004
<BRANCHID>00821
<ACCTID>00012345678
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20260301
<DTEND>20260331
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260302
<TRNAMT>-45.21
<FITID>2026030201
<NAME>PAIEMENT CB CARREFOUR MARKET
<MEMO>PARIS 12
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20260305
<TRNAMT>2100.00
<FITID>2026030502
<NAME>VIR SEPA SALAIRE ACME SARL
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1234.56
<DTASOF>20260331
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestParseStatement(t *testing.T) {
	parser := NewParser()

	statements, err := parser.Parse(strings.NewReader(sampleOFX))
	require.NoError(t, err)
	require.Len(t, statements, 1)

	stmt := statements[0]
	assert.Equal(t, "00012345678", stmt.AccountRef)
	assert.Equal(t, "EUR", stmt.Currency)
	require.Len(t, stmt.Transactions, 2)

	debit := stmt.Transactions[0]
	assert.Equal(t, "2026030201", debit.ID)
	assert.Equal(t, "PAIEMENT CB CARREFOUR MARKET PARIS 12", debit.LabelRaw)
	assert.Equal(t, int64(-4521), debit.AmountCents)
	assert.Equal(t, "2026-03-02", debit.Date.Format("2006-01-02"))
	assert.NotEmpty(t, debit.Fingerprint)

	credit := stmt.Transactions[1]
	assert.Equal(t, int64(210000), credit.AmountCents)
	assert.True(t, credit.IsIncome())
}

func TestParseRejectsGarbage(t *testing.T) {
	parser := NewParser()

	_, err := parser.Parse(strings.NewReader("this is not an OFX file"))
	assert.Error(t, err)
}

func TestPreprocessOFX(t *testing.T) {
	parser := NewParser()

	t.Run("normalizes severity case", func(t *testing.T) {
		out := parser.preprocessOFX("<SEVERITY>Info</SEVERITY>")
		assert.Equal(t, "<SEVERITY>INFO</SEVERITY>", out)
	})

	t.Run("closes dangling tags", func(t *testing.T) {
		out := parser.preprocessOFX("<STMTTRN\n<TRNTYPE>DEBIT")
		assert.Equal(t, "<STMTTRN>\n<TRNTYPE>DEBIT", out)
	})

	t.Run("trims leading blank lines", func(t *testing.T) {
		out := parser.preprocessOFX("\r\n\nOFXHEADER:100")
		assert.Equal(t, "OFXHEADER:100", out)
	})
}

func TestBuildLabel(t *testing.T) {
	tests := []struct {
		name string
		txn  ofxgo.Transaction
		want string
	}{
		{
			name: "name and memo concatenated",
			txn: ofxgo.Transaction{
				Name: "PRLV SEPA EDF",
				Memo: "FACTURE 03/2026",
			},
			want: "PRLV SEPA EDF FACTURE 03/2026",
		},
		{
			name: "memo repeating the name is dropped",
			txn: ofxgo.Transaction{
				Name: "PAIEMENT CB CARREFOUR PARIS",
				Memo: "CARREFOUR",
			},
			want: "PAIEMENT CB CARREFOUR PARIS",
		},
		{
			name: "memo only",
			txn: ofxgo.Transaction{
				Memo: "RETRAIT DAB 12/03",
			},
			want: "RETRAIT DAB 12/03",
		},
		{
			name: "whitespace trimmed",
			txn: ofxgo.Transaction{
				Name: "  VIR SALAIRE  ",
			},
			want: "VIR SALAIRE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildLabel(tt.txn))
		})
	}
}
