// Package ofx parses OFX/QFX bank exports into transactions ready for
// import. French banks ship SGML-era OFX 1.x files with enough formatting
// quirks that the content is normalized before the real parser sees it.
package ofx

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"

	"github.com/mlecarme/spendsort/internal/model"
)

// Statement is one account's worth of parsed activity. Transactions carry
// no AccountID yet; the importer resolves the bank's account reference to
// a local account first.
type Statement struct {
	AccountRef   string // the bank's ACCTID
	Currency     string
	Transactions []model.Transaction
}

// Parser implements OFX/QFX file parsing.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files before the
// strict parser sees them.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Mixed-case SEVERITY values (should be INFO, WARN, or ERROR).
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// SGML-style tags missing their closing angle bracket at end of line.
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// Parse reads an OFX/QFX export and returns one statement per account
// found, bank and credit card sections alike.
func (p *Parser) Parse(reader io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("parsing OFX file: %w", err)
	}

	var statements []Statement

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements = append(statements, Statement{
			AccountRef:   string(stmt.BankAcctFrom.AcctID),
			Currency:     stmt.CurDef.String(),
			Transactions: p.convertTransactions(stmt.BankTranList.Transactions),
		})
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements = append(statements, Statement{
			AccountRef:   string(stmt.CCAcctFrom.AcctID),
			Currency:     stmt.CurDef.String(),
			Transactions: p.convertTransactions(stmt.BankTranList.Transactions),
		})
	}

	return statements, nil
}

func (p *Parser) convertTransactions(ofxTxns []ofxgo.Transaction) []model.Transaction {
	transactions := make([]model.Transaction, 0, len(ofxTxns))
	for _, ofxTx := range ofxTxns {
		transactions = append(transactions, p.convertTransaction(ofxTx))
	}
	return transactions
}

// convertTransaction maps one OFX record onto the domain model. The sign
// convention carries over directly: debits are negative.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction) model.Transaction {
	amount, _ := ofxTx.TrnAmt.Float64()

	txn := model.Transaction{
		ID:          string(ofxTx.FiTID),
		Date:        ofxTx.DtPosted.Time,
		LabelRaw:    buildLabel(ofxTx),
		AmountCents: int64(math.Round(amount * 100)),
	}
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	txn.Fingerprint = txn.GenerateFingerprint()
	return txn
}

// buildLabel assembles the raw statement label. French banks split long
// labels across NAME and MEMO, so the memo is appended unless it merely
// repeats the name.
func buildLabel(ofxTx ofxgo.Transaction) string {
	name := strings.TrimSpace(string(ofxTx.Name))
	memo := strings.TrimSpace(string(ofxTx.Memo))

	switch {
	case name == "":
		return memo
	case memo == "" || strings.Contains(strings.ToUpper(name), strings.ToUpper(memo)):
		return name
	default:
		return name + " " + memo
	}
}
