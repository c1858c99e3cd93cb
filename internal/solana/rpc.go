package solana

import "context"

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	// GetBalance returns the lamport balance of an address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountsByOwner returns parsed token accounts owned by an address for a token program.
	GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenAccount, error)

	// GetProgramAccounts returns accounts owned by a program matching all filters.
	GetProgramAccounts(ctx context.Context, programID string, filters []MemcmpFilter) ([]ProgramAccount, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil when the node does not know the transaction.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// Failed reports whether the transaction executed with an on-chain error.
func (t *Transaction) Failed() bool {
	return t != nil && t.Meta != nil && t.Meta.Err != nil
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err         interface{}
	Fee         uint64
	LogMessages []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}
