package stub

import (
	"context"
	"sync"

	"solana-wallet-tracker/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Per-method errors, when set, are returned instead of data.
type RPCClient struct {
	mu sync.Mutex

	Balances      map[string]uint64
	TokenAccounts map[string][]solana.TokenAccount
	StakeAccounts map[string][]solana.ProgramAccount
	Signatures    map[string][]solana.SignatureInfo
	Transactions  map[string]*solana.Transaction

	BalanceErr     error
	TokensErr      error
	StakeErr       error
	SignaturesErr  error
	TransactionErr error

	calls map[string]int
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Balances:      make(map[string]uint64),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		StakeAccounts: make(map[string][]solana.ProgramAccount),
		Signatures:    make(map[string][]solana.SignatureInfo),
		Transactions:  make(map[string]*solana.Transaction),
		calls:         make(map[string]int),
	}
}

func (c *RPCClient) record(method string) {
	c.calls[method]++
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// GetBalance returns the stored balance, zero for unknown addresses.
func (c *RPCClient) GetBalance(_ context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getBalance")
	if c.BalanceErr != nil {
		return 0, c.BalanceErr
	}
	return c.Balances[address], nil
}

// GetTokenAccountsByOwner returns the stored token accounts of owner.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, _ string) ([]solana.TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTokenAccountsByOwner")
	if c.TokensErr != nil {
		return nil, c.TokensErr
	}
	return c.TokenAccounts[owner], nil
}

// GetProgramAccounts returns the stake accounts whose staker matches the first filter.
func (c *RPCClient) GetProgramAccounts(_ context.Context, _ string, filters []solana.MemcmpFilter) ([]solana.ProgramAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getProgramAccounts")
	if c.StakeErr != nil {
		return nil, c.StakeErr
	}
	if len(filters) == 0 {
		return nil, nil
	}
	return c.StakeAccounts[filters[0].Bytes], nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getSignaturesForAddress")
	if c.SignaturesErr != nil {
		return nil, c.SignaturesErr
	}
	sigs, ok := c.Signatures[address]
	if !ok {
		return nil, nil
	}

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return sigs[:opts.Limit], nil
	}

	return sigs, nil
}

// GetTransaction retrieves a transaction by signature. Unknown signatures yield nil, nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTransaction")
	if c.TransactionErr != nil {
		return nil, c.TransactionErr
	}
	return c.Transactions[signature], nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// SetBalance sets the lamport balance of address.
func (c *RPCClient) SetBalance(address string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[address] = lamports
}

// AddTokenAccounts adds token accounts owned by owner.
func (c *RPCClient) AddTokenAccounts(owner string, accounts ...solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[owner] = append(c.TokenAccounts[owner], accounts...)
}

// AddStakeAccounts adds stake accounts whose staker authority is staker.
func (c *RPCClient) AddStakeAccounts(staker string, accounts ...solana.ProgramAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StakeAccounts[staker] = append(c.StakeAccounts[staker], accounts...)
}
