package interactions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/addr"
)

// ZapInfo contains parsed zap receipt information
type ZapInfo struct {
	Amount        int64  // Amount in satoshis
	TargetEventID string // Event being zapped
	Sender        string // Pubkey of sender, from the embedded zap request
	Comment       string // Optional comment
}

var bolt11AmountRe = regexp.MustCompile(`lnbc(\d+)([munp]?)`)

// parseZapReceipt extracts zap information from a kind 9735 event.
func parseZapReceipt(event *nostr.Event) (*ZapInfo, error) {
	if event.Kind != addr.KindZapReceipt {
		return nil, fmt.Errorf("expected kind %d, got %d", addr.KindZapReceipt, event.Kind)
	}

	info := &ZapInfo{}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}

		switch tag[0] {
		case "e":
			info.TargetEventID = tag[1]
		case "description":
			// The description tag carries the original zap request
			// (kind 9734); sender and comment come from there.
			if err := parseZapRequest(tag[1], info); err != nil {
				continue
			}
		case "bolt11":
			if amount, err := parseInvoiceAmount(tag[1]); err == nil {
				info.Amount = amount
			}
		}
	}

	return info, nil
}

// parseZapRequest parses the zap request from the description tag
func parseZapRequest(descJSON string, info *ZapInfo) error {
	var zapRequest struct {
		Pubkey  string `json:"pubkey"`
		Content string `json:"content"`
	}

	if err := json.Unmarshal([]byte(descJSON), &zapRequest); err != nil {
		return err
	}

	info.Sender = zapRequest.Pubkey
	info.Comment = zapRequest.Content

	return nil
}

// parseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice.
// This is a simplified parser - a full implementation would use a proper
// bolt11 library.
func parseInvoiceAmount(invoice string) (int64, error) {
	matches := bolt11AmountRe.FindStringSubmatch(invoice)
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	multiplier := ""
	if len(matches) >= 3 {
		multiplier = matches[2]
	}

	switch multiplier {
	case "m": // millibitcoin = 100,000 sats
		amount = amount * 100000
	case "u": // microbitcoin = 100 sats
		amount = amount * 100
	case "n": // nanobitcoin = 0.1 sats
		amount = amount / 10
	case "p": // picobitcoin = 0.0001 sats
		amount = amount / 10000
	default: // no multiplier = 1 bitcoin = 100,000,000 sats
		amount = amount * 100000000
	}

	return amount, nil
}

// FormatSats formats satoshis for display
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
