// Package ledger loads the external book of record and reconciles the
// database's derived positions against it. The book's format is a plain
// text file; the only identifier the rest of the system persists is the
// snapshot's commit hash.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Holding is one position line of an account: security, quantity, and the
// cost basis per unit in its cost currency.
type Holding struct {
	Security     string
	Quantity     float64
	CostPerUnit  float64
	CostCurrency string
}

// Account is one account section of the book: its holdings plus a cash
// balance per currency.
type Account struct {
	Name     string
	Holdings []Holding
	Cash     map[string]float64
}

// Snapshot is a parsed book pinned by commit hash. The hash is the SHA-256
// of the file bytes, so any edit to the book yields a new identity.
type Snapshot struct {
	CommitHash string
	Timestamp  time.Time
	Accounts   map[string]*Account
}

// Load reads and parses a ledger file, computing its commit hash from the
// raw bytes. The snapshot timestamp is the file's modification time.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	accounts, err := Parse(strings.NewReader(string(raw)))
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)

	timestamp := time.Now().UTC()
	if info, statErr := os.Stat(path); statErr == nil {
		timestamp = info.ModTime().UTC()
	}

	return &Snapshot{
		CommitHash: hex.EncodeToString(sum[:]),
		Timestamp:  timestamp,
		Accounts:   accounts,
	}, nil
}

// Parse reads the plain-text book format:
//
//	account <name>
//	position <security> <quantity> <cost_per_unit> <currency>
//	cash <currency> <amount>
//
// Lines starting with # or ; are comments. position and cash lines belong
// to the most recent account header. Duplicate accounts and duplicate cash
// currencies within an account are rejected.
func Parse(r io.Reader) (map[string]*Account, error) {
	accounts := make(map[string]*Account)
	var current *Account

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "account":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: account takes exactly one name", lineNo)
			}
			name := fields[1]
			if _, exists := accounts[name]; exists {
				return nil, fmt.Errorf("line %d: duplicate account %q", lineNo, name)
			}
			current = &Account{Name: name, Cash: make(map[string]float64)}
			accounts[name] = current

		case "position":
			if current == nil {
				return nil, fmt.Errorf("line %d: position outside an account section", lineNo)
			}
			if len(fields) != 5 {
				return nil, fmt.Errorf("line %d: position takes security, quantity, cost_per_unit, currency", lineNo)
			}
			quantity, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid quantity %q", lineNo, fields[2])
			}
			costPerUnit, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid cost_per_unit %q", lineNo, fields[3])
			}
			current.Holdings = append(current.Holdings, Holding{
				Security:     fields[1],
				Quantity:     quantity,
				CostPerUnit:  costPerUnit,
				CostCurrency: fields[4],
			})

		case "cash":
			if current == nil {
				return nil, fmt.Errorf("line %d: cash outside an account section", lineNo)
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: cash takes currency and amount", lineNo)
			}
			currency := fields[1]
			amount, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid cash amount %q", lineNo, fields[2])
			}
			if _, exists := current.Cash[currency]; exists {
				return nil, fmt.Errorf("line %d: duplicate cash currency %q in account %q", lineNo, currency, current.Name)
			}
			current.Cash[currency] = amount

		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}

	return accounts, nil
}
