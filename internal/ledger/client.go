// Package ledger reads wallet state from a Solana node and streams log events
// for tracked addresses.
//
// Reads never fail: each one degrades to a zero value and logs the cause, so
// a partial node outage still yields a usable snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-wallet-tracker/internal/address"
	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/observability"
	"solana-wallet-tracker/internal/solana"
)

// DefaultSignatureLimit is how many recent transactions a snapshot lists.
const DefaultSignatureLimit = 5

// Status reported for a signature the node returned without one.
const defaultStatus = solana.CommitmentConfirmed

// ErrInvalidAddress is returned when subscribing to a malformed address.
var ErrInvalidAddress = errors.New("invalid address")

// Options configures a Client.
type Options struct {
	Logger zerolog.Logger
	// Now is used for signatures without a block time. Defaults to time.Now.
	Now func() time.Time
}

// Client is the ledger facade used by the bot.
type Client struct {
	rpc    solana.RPCClient
	ws     solana.WSClient
	logger zerolog.Logger
	now    func() time.Time

	subs subscriptions
}

// NewClient creates a Client over the raw RPC and WebSocket clients.
// ws may be nil when only reads are needed.
func NewClient(rpc solana.RPCClient, ws solana.WSClient, opts Options) *Client {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Client{
		rpc:    rpc,
		ws:     ws,
		logger: opts.Logger.With().Str("component", "ledger").Logger(),
		now:    now,
	}
	c.subs.init()
	return c
}

// GetBalance returns the lamport balance of addr, 0 on failure.
func (c *Client) GetBalance(ctx context.Context, addr string) uint64 {
	if !address.IsValid(addr) {
		return 0
	}

	lamports, err := c.rpc.GetBalance(ctx, addr)
	if err != nil {
		c.degraded("balance", addr, err)
		return 0
	}
	return lamports
}

// GetTokenHoldings returns the SPL token accounts of addr, empty on failure.
func (c *Client) GetTokenHoldings(ctx context.Context, addr string) []domain.TokenHolding {
	holdings := []domain.TokenHolding{}
	if !address.IsValid(addr) {
		return holdings
	}

	accounts, err := c.rpc.GetTokenAccountsByOwner(ctx, addr, solana.TokenProgramID)
	if err != nil {
		c.degraded("tokens", addr, err)
		return holdings
	}

	for _, acc := range accounts {
		holdings = append(holdings, domain.TokenHolding{
			Mint:     acc.Mint,
			Amount:   acc.Amount,
			UIAmount: acc.UIAmount,
			Decimals: acc.Decimals,
			IsNFT:    domain.IsNFTAmount(acc.Decimals, acc.Amount),
		})
	}
	return holdings
}

// GetStakeAccountCount returns how many stake accounts name addr as staker, 0 on failure.
func (c *Client) GetStakeAccountCount(ctx context.Context, addr string) int {
	if !address.IsValid(addr) {
		return 0
	}

	accounts, err := c.rpc.GetProgramAccounts(ctx, solana.StakeProgramID, []solana.MemcmpFilter{
		{Offset: solana.StakerAuthorityOffset, Bytes: addr},
	})
	if err != nil {
		c.degraded("stake", addr, err)
		return 0
	}
	return len(accounts)
}

// GetRecentSignatures returns up to limit recent transactions of addr, empty on failure.
// Missing block times are reported as now and missing statuses as confirmed.
func (c *Client) GetRecentSignatures(ctx context.Context, addr string, limit int) []domain.TransactionSummary {
	out := []domain.TransactionSummary{}
	if !address.IsValid(addr) {
		return out
	}
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}

	sigs, err := c.rpc.GetSignaturesForAddress(ctx, addr, &solana.SignaturesOpts{Limit: limit})
	if err != nil {
		c.degraded("signatures", addr, err)
		return out
	}

	for _, s := range sigs {
		summary := domain.TransactionSummary{
			Signature: s.Signature,
			Status:    s.ConfirmationStatus,
		}
		if summary.Signature == "" {
			summary.Signature = "Unknown"
		}
		if s.BlockTime != nil {
			summary.BlockTime = *s.BlockTime
		} else {
			summary.BlockTime = c.now().Unix()
		}
		if summary.Status == "" {
			summary.Status = defaultStatus
		}
		out = append(out, summary)
		if len(out) == limit {
			break
		}
	}
	return out
}

// GetTransactionDetail fetches a transaction, nil when it is unknown or the fetch fails.
func (c *Client) GetTransactionDetail(ctx context.Context, signature string) *solana.Transaction {
	if signature == "" {
		return nil
	}

	tx, err := c.rpc.GetTransaction(ctx, signature)
	if err != nil {
		c.logger.Warn().Err(err).Str("signature", signature).Msg("transaction fetch failed")
		observability.RecordTxFetchFailure("error")
		return nil
	}
	if tx == nil {
		observability.RecordTxFetchFailure("not_found")
	}
	return tx
}

// GetWalletSnapshot reads balance, tokens, stake accounts and recent
// signatures concurrently. It never fails; a malformed address or failing
// reads yield zero values.
func (c *Client) GetWalletSnapshot(ctx context.Context, addr string) domain.WalletSnapshot {
	observability.RecordSnapshot()

	snap := domain.EmptySnapshot()
	if !address.IsValid(addr) {
		c.logger.Warn().Str("address", addr).Msg("snapshot requested for malformed address")
		return snap
	}

	var (
		wg       sync.WaitGroup
		lamports uint64
		holdings []domain.TokenHolding
		stake    int
		recent   []domain.TransactionSummary
	)
	wg.Add(4)
	go func() { defer wg.Done(); lamports = c.GetBalance(ctx, addr) }()
	go func() { defer wg.Done(); holdings = c.GetTokenHoldings(ctx, addr) }()
	go func() { defer wg.Done(); stake = c.GetStakeAccountCount(ctx, addr) }()
	go func() { defer wg.Done(); recent = c.GetRecentSignatures(ctx, addr, DefaultSignatureLimit) }()
	wg.Wait()

	snap.SolBalance = FormatSOL(lamports)
	snap.Tokens = domain.CountTokens(holdings)
	snap.StakeAccounts = stake
	snap.RecentTransactions = recent
	snap.OnCurve = address.IsOnCurve(addr)
	return snap
}

// FormatSOL renders lamports as SOL with four decimals.
func FormatSOL(lamports uint64) string {
	return strconv.FormatFloat(float64(lamports)/domain.LamportsPerSOL, 'f', 4, 64)
}

func (c *Client) degraded(query, addr string, err error) {
	observability.RecordSnapshotPartial(query)
	c.logger.Warn().Err(err).Str("query", query).Str("address", addr).Msg("ledger read degraded")
}

// Close stops every live subscription and waits for their dispatchers to exit.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	for _, id := range c.subs.ids() {
		if err := c.Unsubscribe(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	c.subs.wait()
	if len(errs) > 0 {
		return fmt.Errorf("close subscriptions: %w", errors.Join(errs...))
	}
	return nil
}
