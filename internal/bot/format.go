package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"solana-wallet-tracker/internal/domain"
	"solana-wallet-tracker/internal/notify"
	"solana-wallet-tracker/internal/tracking"
)

// Callback data.
const (
	cbTrackInit    = "livetrack_init"
	cbTrackConfirm = "track_confirm_"
	cbTrackCancel  = "track_cancel"
)

// Replies.
const (
	msgInvalidAddress    = "⚠️ Invalid Solana address format"
	msgInvalidCallback   = "⚠️ Invalid wallet address in callback"
	msgCallbackError     = "⚠️ Error processing request"
	msgUnavailable       = "⚠️ Service temporarily unavailable. Please try again later."
	msgUnknownCommand    = "Unknown command. Send /help to see what I can do."
	msgAskTarget         = "🎯 Send the Solana wallet address you want to track."
	msgTrackCancelled    = "❌ Tracking cancelled"
	msgNotTracking       = "You are not tracking any wallet."
	msgNotTrackingWallet = "You are no longer tracking this wallet."
	msgNoAlerts          = "No notifications delivered yet."
	msgUnknownAction     = "⚠️ Unknown action"
)

const (
	utcDateTimeLayout   = "Mon, 02 Jan 2006 15:04:05 GMT"
	recentDateLayout    = "1/2/2006"
	signaturePreviewLen = 8
)

func welcomeText(firstName string) string {
	return fmt.Sprintf(`Welcome %s!

Commands:
/start - Initialize bot
/help - Show help menu
/about - Bot information
/track - Track a wallet live
/stop - Stop tracking
/alerts - Recent notifications

🚀 Let's start:
Send a Solana wallet address.`, firstName)
}

func helpText() string {
	return "*🤖 Bot Commands*\n\n" +
		notify.EscapeMarkdown(`/start - Initialize bot
/help - Show help menu
/about - Bot information
/track - Track a wallet live
/stop - Stop tracking
/alerts - Recent notifications`) +
		"\n\n*Features*\n" +
		notify.EscapeMarkdown(`- Real-time balance tracking
- NFT portfolio analysis
- Transaction history
- Staking overview
- Live transaction alerts
- Interactive dashboard`)
}

func aboutText(network string) string {
	return "*🌐 About This Bot*\n\n" +
		notify.EscapeMarkdown(fmt.Sprintf(`Version: 2.1
Network: Solana %s
Data Providers:
  - Helius RPC
  - Solana JSON-RPC`, network))
}

// analysisText renders the wallet analysis. updatedAt is appended on refresh.
func analysisText(addr string, s domain.WalletSnapshot, updatedAt *time.Time) string {
	var b strings.Builder
	b.WriteString("🔍 *Wallet Analysis* 🔍\n")
	b.WriteString("`" + notify.EscapeMarkdown(addr) + "`\n\n")
	b.WriteString("*◎ SOL Balance* \\: " + notify.EscapeMarkdown(s.SolBalance) + "\n")
	b.WriteString("*🪙 Total Tokens* \\: " + itoa(s.Tokens.Total) + "\n")
	b.WriteString("├─ Fungible \\: " + itoa(s.Tokens.Fungible) + "\n")
	b.WriteString("└─ NFTs \\: " + itoa(s.Tokens.NFTs) + "\n")
	b.WriteString("*🔒 Staked Accounts* \\: " + itoa(s.StakeAccounts) + "\n")
	b.WriteString("*📆 Recent Activity* \\: " + itoa(len(s.RecentTransactions)) + " TXs \\(Last 5\\)\n")
	b.WriteString("*🏷 Account Type* \\: " + accountType(s.OnCurve))
	if updatedAt != nil {
		b.WriteString("\nUpdated at \\: " + notify.EscapeMarkdown(updatedAt.UTC().Format(utcDateTimeLayout)))
	}
	return b.String()
}

func accountType(onCurve bool) string {
	if onCurve {
		return "Wallet"
	}
	return notify.EscapeMarkdown("Program-derived")
}

func tokensText(s domain.WalletSnapshot) string {
	return "📊 *Token Breakdown*\n\n" +
		"🪙 Fungible \\: " + itoa(s.Tokens.Fungible) + "\n" +
		"🖼 NFTs \\: " + itoa(s.Tokens.NFTs)
}

func nftsText(s domain.WalletSnapshot) string {
	return "🖼 *NFT Collection*\n\n" +
		"Total Items \\: " + itoa(s.Tokens.NFTs) + "\n" +
		"Estimated Value \\: Coming Soon 🔄"
}

func txsText(s domain.WalletSnapshot) string {
	if len(s.RecentTransactions) == 0 {
		return "📜 *Recent Transactions*\n\nNo recent transactions"
	}

	lines := make([]string, 0, len(s.RecentTransactions))
	for i, tx := range s.RecentTransactions {
		if i == 5 {
			break
		}
		date := time.Unix(tx.BlockTime, 0).UTC().Format(recentDateLayout)
		lines = append(lines, fmt.Sprintf("%d\\. ⌛ %s \\- %s\\.\\.\\.",
			i+1, notify.EscapeMarkdown(date), notify.EscapeMarkdown(preview(tx.Signature))))
	}
	return "📜 *Recent Transactions*\n\n" + strings.Join(lines, "\n")
}

func valueText() string {
	return "💹 *Portfolio Valuation*\n\n" +
		notify.EscapeMarkdown("This feature is under active development 🛠") + "\n" +
		notify.EscapeMarkdown("Check back next week for updates!")
}

func confirmTrackText(addr string) string {
	return "🎯 *Track this wallet?*\n`" + notify.EscapeMarkdown(addr) + "`\n\n" +
		notify.EscapeMarkdown("You will get a message for every new confirmed transaction.")
}

func trackingStartedText(addr string) string {
	return "✅ *Live tracking started*\n`" + notify.EscapeMarkdown(addr) + "`"
}

func trackingStoppedText(addr string) string {
	if addr == "" {
		return notify.EscapeMarkdown("🛑 Tracking stopped.")
	}
	return "🛑 *Tracking stopped*\n`" + notify.EscapeMarkdown(addr) + "`"
}

func alertsText(deliveries []*domain.Delivery) string {
	lines := make([]string, 0, len(deliveries))
	for i, d := range deliveries {
		when := time.UnixMilli(d.DeliveredAt).UTC().Format(utcDateTimeLayout)
		lines = append(lines, fmt.Sprintf("%d\\. %s\n`%s`", i+1,
			notify.EscapeMarkdown(when), notify.EscapeMarkdown(d.Signature)))
	}
	return "🔔 *Recent Alerts*\n\n" + strings.Join(lines, "\n")
}

// walletKeyboard is the six-button analysis keyboard.
func walletKeyboard(addr string) notify.Keyboard {
	return notify.Keyboard{
		{
			{Text: "📊 Token Analysis", Data: "tokens_" + addr},
			{Text: "🖼 NFT Collection", Data: "nfts_" + addr},
		},
		{
			{Text: "📜 Transaction History", Data: "txs_" + addr},
			{Text: "💹 Portfolio Value", Data: "value_" + addr},
		},
		{
			{Text: "🔄 Refresh Data", Data: "refresh_" + addr},
			{Text: "🔁 Track Other Wallet", Data: cbTrackInit},
		},
	}
}

func confirmKeyboard(addr string) notify.Keyboard {
	return notify.Keyboard{{
		{Text: "✅ Confirm", Data: cbTrackConfirm + addr},
		{Text: "❌ Cancel", Data: cbTrackCancel},
	}}
}

func stopKeyboard(addr string) notify.Keyboard {
	return notify.Keyboard{{tracking.StopButton(addr)}}
}

func preview(sig string) string {
	if len(sig) <= signaturePreviewLen {
		return sig
	}
	return sig[:signaturePreviewLen]
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
