package ledger_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/modules/ledger"
)

const sampleBook = `# book of record, exported nightly
account main
position AAPL 100 150.25 USD
position SAP.DE 40 120.00 EUR
cash USD 12500.00
cash EUR 830.25

; second account
account ira
position MSFT 10 310.10 USD
cash USD 50.00
`

func TestParseSampleBook(t *testing.T) {
	accounts, err := ledger.Parse(strings.NewReader(sampleBook))
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	main := accounts["main"]
	require.NotNil(t, main)
	require.Len(t, main.Holdings, 2)
	assert.Equal(t, ledger.Holding{Security: "AAPL", Quantity: 100, CostPerUnit: 150.25, CostCurrency: "USD"}, main.Holdings[0])
	assert.Equal(t, 12500.00, main.Cash["USD"])
	assert.Equal(t, 830.25, main.Cash["EUR"])

	ira := accounts["ira"]
	require.NotNil(t, ira)
	require.Len(t, ira.Holdings, 1)
	assert.Equal(t, "MSFT", ira.Holdings[0].Security)
	assert.Equal(t, 50.00, ira.Cash["USD"])
}

func TestParseRejectsMalformedBooks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "position before any account",
			input:   "position AAPL 100 150.25 USD\n",
			wantErr: "outside an account",
		},
		{
			name:    "cash before any account",
			input:   "cash USD 10\n",
			wantErr: "outside an account",
		},
		{
			name:    "duplicate account",
			input:   "account main\naccount main\n",
			wantErr: "duplicate account",
		},
		{
			name:    "duplicate cash currency",
			input:   "account main\ncash USD 10\ncash USD 20\n",
			wantErr: "duplicate cash currency",
		},
		{
			name:    "bad quantity",
			input:   "account main\nposition AAPL many 150.25 USD\n",
			wantErr: "invalid quantity",
		},
		{
			name:    "bad cost",
			input:   "account main\nposition AAPL 100 cheap USD\n",
			wantErr: "invalid cost_per_unit",
		},
		{
			name:    "short position line",
			input:   "account main\nposition AAPL 100\n",
			wantErr: "position takes",
		},
		{
			name:    "unknown directive",
			input:   "account main\nholding AAPL 100 150.25 USD\n",
			wantErr: "unknown directive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAllowsRepeatedPositionLines(t *testing.T) {
	// Two lots of the same security are two lines; aggregation happens at
	// reconcile time.
	input := "account main\nposition AAPL 60 150.00 USD\nposition AAPL 40 172.00 USD\n"
	accounts, err := ledger.Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, accounts["main"].Holdings, 2)
}

func TestLoadComputesCommitHashFromBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.ledger")
	require.NoError(t, os.WriteFile(path, []byte(sampleBook), 0o644))

	snapshot, err := ledger.Load(path)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(sampleBook))
	assert.Equal(t, hex.EncodeToString(sum[:]), snapshot.CommitHash)
	assert.Len(t, snapshot.Accounts, 2)
	assert.False(t, snapshot.Timestamp.IsZero())

	// Any byte change, even in a comment, is a new commit identity.
	require.NoError(t, os.WriteFile(path, []byte(sampleBook+"# trailing note\n"), 0o644))
	edited, err := ledger.Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, snapshot.CommitHash, edited.CommitHash)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := ledger.Load(filepath.Join(t.TempDir(), "absent.ledger"))
	require.Error(t, err)
}
