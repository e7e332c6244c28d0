package ofx_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlecarme/spendsort/internal/ofx"
	"github.com/mlecarme/spendsort/internal/testutil"
)

const importFixture = `OFXHEADER:100
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
<SEVERITY>INFO
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
<ACCTID>00098765432
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20260301
<DTEND>20260331
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260310
<TRNAMT>-18.75
<FITID>2026031001
<NAME>PAIEMENT CB CARREFOUR CITY
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260312
<TRNAMT>-29.99
<FITID>2026031202
<NAME>PAIEMENT CB AMAZON PAYMENTS
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>512.34
<DTASOF>20260331
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestImportCreatesAccountAndTransactions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	importer := ofx.NewImporter(db.Storage, nil)
	ctx := context.Background()

	result, err := importer.Import(ctx, testutil.UserID, strings.NewReader(importFixture))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Parsed)
	assert.Equal(t, 2, result.Imported)
	assert.Zero(t, result.Duplicates)
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, "00098765432", result.Accounts[0].Name)
	assert.Equal(t, "EUR", result.Accounts[0].Currency)

	accounts, err := db.Storage.ListAccounts(ctx, testutil.UserID)
	require.NoError(t, err)
	assert.Len(t, accounts, 2) // fixture account plus the imported one
}

func TestImportIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	importer := ofx.NewImporter(db.Storage, nil)
	ctx := context.Background()

	_, err := importer.Import(ctx, testutil.UserID, strings.NewReader(importFixture))
	require.NoError(t, err)

	second, err := importer.Import(ctx, testutil.UserID, strings.NewReader(importFixture))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Parsed)
	assert.Zero(t, second.Imported)
	assert.Equal(t, 2, second.Duplicates)

	// No second account either: the reference resolved to the existing row.
	accounts, err := db.Storage.ListAccounts(ctx, testutil.UserID)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestImportEmptyFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	importer := ofx.NewImporter(db.Storage, nil)

	_, err := importer.Import(context.Background(), testutil.UserID, strings.NewReader("OFXHEADER:100"))
	assert.Error(t, err)
}
