package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens_NFTAndFungible(t *testing.T) {
	holdings := []TokenHolding{
		{Mint: "nft", Decimals: 0, Amount: "1", IsNFT: IsNFTAmount(0, "1")},
		{Mint: "usdc", Decimals: 6, Amount: "500000", IsNFT: IsNFTAmount(6, "500000")},
	}

	counts := CountTokens(holdings)
	assert.Equal(t, TokenCounts{Total: 2, NFTs: 1, Fungible: 1}, counts)
}

func TestIsNFTAmount(t *testing.T) {
	assert.True(t, IsNFTAmount(0, "1"))
	assert.False(t, IsNFTAmount(0, "2"))
	assert.False(t, IsNFTAmount(0, "0"))
	assert.False(t, IsNFTAmount(9, "1"))
}

func TestEmptySnapshot(t *testing.T) {
	s := EmptySnapshot()
	assert.Equal(t, "0.0000", s.SolBalance)
	assert.Equal(t, TokenCounts{}, s.Tokens)
	assert.Zero(t, s.StakeAccounts)
	assert.NotNil(t, s.RecentTransactions)
	assert.Empty(t, s.RecentTransactions)
}

func TestUser_StateTransitions(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	u := &User{ID: 42}

	u.SetState(StateAwaitingTargetAddress, now)
	assert.Equal(t, StateAwaitingTargetAddress, u.State)
	if assert.NotNil(t, u.StateTimestamp) {
		assert.Equal(t, now, *u.StateTimestamp)
	}

	u.SetState(StateNone, now)
	assert.Equal(t, StateNone, u.State)
	assert.Nil(t, u.StateTimestamp)
}

func TestUser_CloneIsDeep(t *testing.T) {
	id := uint64(7)
	u := &User{ID: 1, SubscriptionID: &id, CopyTarget: "x", Status: StatusActive}

	c := u.Clone()
	*c.SubscriptionID = 8
	c.CopyTarget = "y"

	assert.Equal(t, uint64(7), *u.SubscriptionID)
	assert.Equal(t, "x", u.CopyTarget)
	assert.True(t, u.IsTracking())

	u.ClearTracking()
	assert.False(t, u.IsTracking())
	assert.Nil(t, u.SubscriptionID)
}
