package domain

import "time"

// Status is the ledger state of a distribution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TransactionRecord is the ledger row for one distribution.
type TransactionRecord struct {
	TransactionID string     `json:"transactionId"`
	Status        Status     `json:"status"`
	TargetAmount  string     `json:"targetAmount,omitempty"`
	Recipient     string     `json:"recipientAddress,omitempty"`
	TxHash        string     `json:"txHash,omitempty"`
	AmountSent    string     `json:"amountSent,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Settled reports whether the distribution must not run again: it completed,
// or a transfer for it was already broadcast.
func (r *TransactionRecord) Settled() bool {
	return r != nil && (r.Status == StatusCompleted || r.TxHash != "")
}

// Apply merges u into a copy of r.
func (r TransactionRecord) Apply(u RecordUpdate) TransactionRecord {
	r.Status = u.Status
	r.ErrorMessage = u.ErrorMessage
	switch {
	case u.TxHash != "":
		r.TxHash = u.TxHash
	case u.ClearTxHash:
		r.TxHash = ""
	}
	if u.AmountSent != "" {
		r.AmountSent = u.AmountSent
	}
	if u.TargetAmount != "" {
		r.TargetAmount = u.TargetAmount
	}
	if u.Recipient != "" {
		r.Recipient = u.Recipient
	}
	if u.CompletedAt != nil {
		r.CompletedAt = u.CompletedAt
	}
	r.UpdatedAt = time.Now().UTC()
	return r
}

// RecordUpdate is what the orchestrator writes back. ErrorMessage replaces the
// stored value. An empty TxHash keeps the stored hash unless ClearTxHash is set.
type RecordUpdate struct {
	Status       Status
	TxHash       string
	ClearTxHash  bool
	AmountSent   string
	ErrorMessage string
	CompletedAt  *time.Time

	// Set when the ledger has to create the record.
	TargetAmount string
	Recipient    string
}

// Regresses reports whether writing u over r would move a completed record
// backwards.
func (r *TransactionRecord) Regresses(u RecordUpdate) bool {
	return r != nil && r.Status == StatusCompleted && u.Status != StatusCompleted
}
