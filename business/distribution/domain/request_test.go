package domain

import (
	"testing"

	"github.com/fd1az/token-distributor/internal/apperror"
)

func TestNewDistributionRequest(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		amount   string
		source   string
		wantCode apperror.Code
	}{
		{name: "valid", id: "tx-1", amount: "50"},
		{name: "with override", id: "tx-1", amount: "50", source: "1.5"},
		{name: "missing id", id: "  ", amount: "50", wantCode: apperror.CodeRequiredField},
		{name: "bad amount", id: "tx-1", amount: "fifty", wantCode: apperror.CodeInvalidAmount},
		{name: "zero amount", id: "tx-1", amount: "0", wantCode: apperror.CodeInvalidAmount},
		{name: "negative override", id: "tx-1", amount: "5", source: "-1", wantCode: apperror.CodeInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewDistributionRequest(tt.id, "0xabc", tt.amount, tt.source)
			if tt.wantCode != "" {
				if !apperror.HasCode(err, tt.wantCode) {
					t.Fatalf("error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (tt.source != "") != (req.SourceAmountOverride != nil) {
				t.Errorf("override = %v, source %q", req.SourceAmountOverride, tt.source)
			}
		})
	}
}

func TestValidateRecipient(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"lowercase", "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", true},
		{"checksummed", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", true},
		{"bad checksum", "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266", false},
		{"short", "0xabc", false},
		{"not hex", "0xzz9fd6e51aad88f6f4ce6ab8827279cfffb92266", false},
		{"zero", "0x0000000000000000000000000000000000000000", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRecipient(tt.addr)
			if tt.valid && err != nil {
				t.Errorf("ValidateRecipient(%q) error = %v", tt.addr, err)
			}
			if !tt.valid {
				if !apperror.HasCode(err, apperror.CodeInvalidRecipient) {
					t.Errorf("ValidateRecipient(%q) error = %v, want INVALID_RECIPIENT", tt.addr, err)
				}
				if !apperror.IsTerminal(err) {
					t.Errorf("invalid recipient must be terminal")
				}
			}
		})
	}
}

func TestTransactionRecord_Settled(t *testing.T) {
	var nilRec *TransactionRecord
	if nilRec.Settled() {
		t.Error("nil record settled")
	}
	if (&TransactionRecord{Status: StatusPending}).Settled() {
		t.Error("plain pending record settled")
	}
	if !(&TransactionRecord{Status: StatusPending, TxHash: "0xabc"}).Settled() {
		t.Error("record with tx hash not settled")
	}
	if !(&TransactionRecord{Status: StatusCompleted}).Settled() {
		t.Error("completed record not settled")
	}
}
