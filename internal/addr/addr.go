// Package addr converts between local stable identifiers and the network's
// event addressing scheme. An address is either a direct event id or a
// replaceable-event coordinate (kind, author, d-tag), where the d-tag is the
// local identifier of the content item.
package addr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Event kinds used by learnstr content and interactions.
const (
	KindComment     = 1
	KindReaction    = 7
	KindZapReceipt  = 9735
	KindCourse      = 30004 // NIP-51 curation set
	KindDocument    = 30023 // NIP-23 long-form content
	KindPaidContent = 30402 // NIP-99 listing, used for priced items
)

// ContentKinds are the kinds a content item can publish as.
var ContentKinds = []int{KindCourse, KindDocument, KindPaidContent}

// Address identifies an event on the network. Exactly one of EventID or the
// (Kind, PubKey, Identifier) coordinate is populated.
type Address struct {
	EventID    string
	Kind       int
	PubKey     string
	Identifier string
	Relays     []string
}

// IsDirect reports whether the address points at one immutable event id.
func (a Address) IsDirect() bool {
	return a.EventID != ""
}

// IsCoordinate reports whether the address is a replaceable-event coordinate.
func (a Address) IsCoordinate() bool {
	return !a.IsDirect()
}

// Coordinate returns the kind:pubkey:d form of a coordinate address.
func (a Address) Coordinate() string {
	if a.IsDirect() {
		return a.EventID
	}
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.PubKey, a.Identifier)
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Coordinate()
}

// Encode returns the NIP-19 form of the address (nevent or naddr).
func (a Address) Encode() (string, error) {
	if a.IsDirect() {
		return nip19.EncodeEvent(a.EventID, a.Relays, "")
	}
	return nip19.EncodeEntity(a.PubKey, a.Kind, a.Identifier, a.Relays)
}

// Filter returns a filter matching exactly this address.
func (a Address) Filter() nostr.Filter {
	if a.IsDirect() {
		return nostr.Filter{IDs: []string{a.EventID}}
	}
	return nostr.Filter{
		Kinds:   []int{a.Kind},
		Authors: []string{a.PubKey},
		Tags:    nostr.TagMap{"d": []string{a.Identifier}},
	}
}

// IsReplaceable reports whether the kind uses mutable addressing, where
// multiple events share one coordinate and the latest timestamp wins.
func IsReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// Parse accepts a 64-hex event id, note1/nevent1/naddr1 NIP-19 strings, or a
// raw kind:pubkey:d coordinate.
func Parse(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if isHex64(s) {
		return Address{EventID: s}, nil
	}

	if strings.HasPrefix(s, "note1") || strings.HasPrefix(s, "nevent1") || strings.HasPrefix(s, "naddr1") {
		return parseNIP19(s)
	}

	if strings.Contains(s, ":") {
		return ParseCoordinate(s)
	}

	return Address{}, fmt.Errorf("unrecognized address format: %q", s)
}

// ParseCoordinate parses the raw kind:pubkey:d form.
func ParseCoordinate(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("coordinate %q must be kind:pubkey:identifier", s)
	}

	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("coordinate %q has a non-numeric kind: %w", s, err)
	}
	if !isHex64(parts[1]) {
		return Address{}, fmt.Errorf("coordinate %q has an invalid pubkey", s)
	}
	if parts[2] == "" {
		return Address{}, fmt.Errorf("coordinate %q has an empty identifier", s)
	}

	return Address{
		Kind:       kind,
		PubKey:     parts[1],
		Identifier: parts[2],
	}, nil
}

func parseNIP19(s string) (Address, error) {
	prefix, decoded, err := nip19.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decode NIP-19 address: %w", err)
	}

	switch prefix {
	case "note":
		return Address{EventID: decoded.(string)}, nil
	case "nevent":
		pointer := decoded.(nostr.EventPointer)
		return Address{EventID: pointer.ID, Relays: pointer.Relays}, nil
	case "naddr":
		pointer := decoded.(nostr.EntityPointer)
		return Address{
			Kind:       pointer.Kind,
			PubKey:     pointer.PublicKey,
			Identifier: pointer.Identifier,
			Relays:     pointer.Relays,
		}, nil
	default:
		return Address{}, fmt.Errorf("unsupported NIP-19 type: %s", prefix)
	}
}

// ForDraft builds the coordinate address a draft publishes under. The local
// identifier doubles as the event's d-tag.
func ForDraft(kind int, pubkey, localID string) Address {
	return Address{Kind: kind, PubKey: pubkey, Identifier: localID}
}

// EventIdentifier extracts the d-tag of an event, or falls back to its id for
// non-replaceable kinds. This is the key the resolver groups results under.
func EventIdentifier(ev *nostr.Event) string {
	if IsReplaceable(ev.Kind) {
		for _, tag := range ev.Tags {
			if len(tag) >= 2 && tag[0] == "d" {
				return tag[1]
			}
		}
	}
	return ev.ID
}

// MergeFilters folds a set of addresses into the single filter a batch query
// issues: direct ids into the IDs list, coordinate identifiers into the #d
// list, restricted to the requested kinds.
func MergeFilters(addrs []Address, kinds []int) nostr.Filter {
	filter := nostr.Filter{}

	var ids, dtags []string
	for _, a := range addrs {
		if a.IsDirect() {
			ids = append(ids, a.EventID)
		} else {
			dtags = append(dtags, a.Identifier)
		}
	}

	if len(ids) > 0 {
		filter.IDs = ids
	}
	if len(dtags) > 0 {
		filter.Tags = nostr.TagMap{"d": dtags}
		filter.Kinds = kinds
	}

	return filter
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
