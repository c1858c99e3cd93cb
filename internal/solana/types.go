package solana

// Commitment levels accepted by the node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Well-known program IDs.
const (
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	StakeProgramID = "Stake11111111111111111111111111111111111111"
)

// StakerAuthorityOffset is the byte offset of the staker authority in stake account data.
const StakerAuthorityOffset = 12

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string
	Slot               int64
	BlockTime          *int64
	Err                interface{}
	ConfirmationStatus string
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// TokenAccount is a parsed SPL token account from getTokenAccountsByOwner.
type TokenAccount struct {
	Pubkey   string
	Mint     string
	Owner    string
	Amount   string // raw integer amount
	Decimals int
	UIAmount float64
}

// ProgramAccount is an account owned by a program from getProgramAccounts.
type ProgramAccount struct {
	Pubkey   string
	Lamports uint64
	Owner    string
}

// MemcmpFilter matches account data at Offset against base58 Bytes.
type MemcmpFilter struct {
	Offset int
	Bytes  string
}
