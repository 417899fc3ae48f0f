// Package signer abstracts the two signing authorities a session can use: a
// platform-held key or the user's own external signer reached over NIP-46.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip46"
)

// ErrDeclined marks a user-facing refusal to sign. It is not retryable
// without new user action.
var ErrDeclined = errors.New("user declined to sign")

// Signer is a signing authority.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, event *nostr.Event) error
}

// IsDeclined reports whether an error represents a user refusal rather than
// a transport problem.
func IsDeclined(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeclined) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"declin", "reject", "denied", "cancel"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// KeySigner signs with a locally-held secret key. This is the
// platform-custodied authority.
type KeySigner struct {
	sk string
	pk string
}

// NewKeySigner accepts an nsec or hex secret key.
func NewKeySigner(secret string) (*KeySigner, error) {
	sk := strings.TrimSpace(secret)
	if strings.HasPrefix(sk, "nsec1") {
		prefix, decoded, err := nip19.Decode(sk)
		if err != nil {
			return nil, fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("expected nsec, got %s", prefix)
		}
		sk = decoded.(string)
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}

	return &KeySigner{sk: sk, pk: pk}, nil
}

// GetPublicKey returns the key's public half.
func (s *KeySigner) GetPublicKey(ctx context.Context) (string, error) {
	return s.pk, nil
}

// SignEvent fills in the event's pubkey, id and signature.
func (s *KeySigner) SignEvent(ctx context.Context, event *nostr.Event) error {
	if err := event.Sign(s.sk); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	return nil
}

// BunkerSigner signs through a NIP-46 remote bunker. This is the
// user-custodied authority; the user can refuse any request.
type BunkerSigner struct {
	bunker *nip46.BunkerClient
}

// ConnectBunker establishes a session with the bunker at the given URL.
func ConnectBunker(ctx context.Context, bunkerURL string, pool *nostr.SimplePool) (*BunkerSigner, error) {
	clientKey := nostr.GeneratePrivateKey()
	bunker, err := nip46.ConnectBunker(ctx, clientKey, bunkerURL, pool, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bunker: %w", err)
	}
	return &BunkerSigner{bunker: bunker}, nil
}

// NewBunkerSigner wraps an existing bunker session.
func NewBunkerSigner(bunker *nip46.BunkerClient) *BunkerSigner {
	return &BunkerSigner{bunker: bunker}
}

// GetPublicKey asks the bunker for the user's public key.
func (s *BunkerSigner) GetPublicKey(ctx context.Context) (string, error) {
	pk, err := s.bunker.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("bunker get_public_key failed: %w", err)
	}
	return pk, nil
}

// SignEvent hands the unsigned event to the bunker. A refusal surfaces as
// ErrDeclined so callers can distinguish it from transport failures.
func (s *BunkerSigner) SignEvent(ctx context.Context, event *nostr.Event) error {
	if err := s.bunker.SignEvent(ctx, event); err != nil {
		if IsDeclined(err) {
			return fmt.Errorf("%w: %s", ErrDeclined, err)
		}
		return fmt.Errorf("bunker sign_event failed: %w", err)
	}
	return nil
}
