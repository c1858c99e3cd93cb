package domain

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// TokenHolding is one SPL token account owned by an address.
type TokenHolding struct {
	Mint     string
	Amount   string  // raw integer amount as returned by the node
	UIAmount float64 // amount adjusted for decimals
	Decimals int
	IsNFT    bool
}

// TokenCounts summarizes token holdings.
type TokenCounts struct {
	Total    int `json:"total"`
	NFTs     int `json:"nfts"`
	Fungible int `json:"fungible"`
}

// TransactionSummary is a recent transaction reference for an address.
type TransactionSummary struct {
	Signature string `json:"signature"`
	BlockTime int64  `json:"blockTime"` // unix seconds
	Status    string `json:"status"`
}

// WalletSnapshot is a point-in-time view of an address. Never persisted.
type WalletSnapshot struct {
	SolBalance         string               `json:"solBalance"` // SOL with 4 decimals
	Tokens             TokenCounts          `json:"tokens"`
	StakeAccounts      int                  `json:"stakeAccounts"`
	RecentTransactions []TransactionSummary `json:"recentTransactions"`
	OnCurve            bool                 `json:"onCurve"` // false for program-derived addresses
}

// EmptySnapshot returns the zero snapshot used when nothing could be read.
func EmptySnapshot() WalletSnapshot {
	return WalletSnapshot{
		SolBalance:         "0.0000",
		RecentTransactions: []TransactionSummary{},
	}
}

// CountTokens classifies holdings into fungible and non-fungible counts.
func CountTokens(holdings []TokenHolding) TokenCounts {
	counts := TokenCounts{Total: len(holdings)}
	for _, h := range holdings {
		if h.IsNFT {
			counts.NFTs++
		} else {
			counts.Fungible++
		}
	}
	return counts
}

// IsNFTAmount reports whether a token account looks like a single NFT:
// zero decimals and a raw amount of exactly one.
func IsNFTAmount(decimals int, amount string) bool {
	return decimals == 0 && amount == "1"
}
