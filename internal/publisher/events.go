package publisher

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/addr"
	"github.com/learnstr/learnstr/internal/store"
)

// ChildRef is a resolved child of a composite draft: the coordinate it lives
// under and the pubkey that authored it.
type ChildRef struct {
	Address addr.Address
	Author  string
}

// eventKind maps a draft to the kind it publishes as. Priced documents and
// videos go out as listings; courses are curation sets.
func eventKind(draft *store.Draft) int {
	if draft.Kind == store.DraftCourse {
		return addr.KindCourse
	}
	if draft.Price > 0 {
		return addr.KindPaidContent
	}
	return addr.KindDocument
}

// buildEvent constructs the unsigned event for a draft. The draft's local id
// becomes the d-tag, which is what makes republication land on the same
// mutable address. Children appear in order: coordinates as a-tags (the
// coordinate carries the author), direct event ids as e-tags with the
// child's author appended.
func buildEvent(draft *store.Draft, pubkey string, children []ChildRef) *nostr.Event {
	tags := nostr.Tags{
		{"d", draft.ID},
	}

	if draft.Title != "" {
		tags = append(tags, nostr.Tag{"title", draft.Title})
	}
	if draft.Summary != "" {
		tags = append(tags, nostr.Tag{"summary", draft.Summary})
	}
	if draft.Price > 0 {
		tags = append(tags, nostr.Tag{"price", strconv.FormatInt(draft.Price, 10), "sats"})
	}
	for _, topic := range draft.Topics {
		tags = append(tags, nostr.Tag{"t", topic})
	}
	for _, link := range draft.Links {
		tags = append(tags, nostr.Tag{"r", link})
	}

	for _, child := range children {
		if child.Address.IsDirect() {
			tag := nostr.Tag{"e", child.Address.EventID, ""}
			if child.Author != "" {
				tag = append(tag, child.Author)
			}
			tags = append(tags, tag)
			continue
		}
		tags = append(tags, nostr.Tag{"a", child.Address.Coordinate()})
	}

	return &nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Now(),
		Kind:      eventKind(draft),
		Tags:      tags,
		Content:   draft.Content,
	}
}
