package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/rs/zerolog"
)

// Accepted auth event kinds: 27235 (NIP-98 HTTP auth) and 22242
// (relay auth, accepted for client compatibility).
const (
	kindHTTPAuth  = 27235
	kindRelayAuth = 22242
)

// Legacy header names for callers that cannot produce signed events.
const (
	headerLegacyPubkey    = "X-Identity-Pubkey"
	headerLegacySignature = "X-Identity-Signature"
)

var (
	hex64Re  = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	hex128Re = regexp.MustCompile(`^[0-9a-fA-F]{128}$`)
)

// nostrEvent is the wire form of a signed Nostr event.
type nostrEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// NostrVerifier implements ports.IdentityVerifier for NIP-98 style request
// authentication.
//
// Two credential forms are accepted. A base64 signed event in the
// Authorization header yields a full-trust identity after signature,
// timestamp, kind and method checks. Bare pubkey/signature headers yield
// a weak-trust identity: the pubkey is syntactically valid but nothing
// binds it to this request, so money-moving operations refuse it. A short
// hex Authorization token is only valid alongside those headers; on its
// own it names no verifiable identity.
type NostrVerifier struct {
	replay    ports.ReplayGuard
	tolerance time.Duration
	log       zerolog.Logger

	now func() time.Time
}

// NewNostrVerifier creates a NostrVerifier. tolerance bounds |now -
// created_at| on signed events, inclusive at the boundary.
func NewNostrVerifier(replay ports.ReplayGuard, tolerance time.Duration, log zerolog.Logger) *NostrVerifier {
	return &NostrVerifier{
		replay:    replay,
		tolerance: tolerance,
		log:       log,
		now:       time.Now,
	}
}

// Verify authenticates the request and returns the caller identity.
func (v *NostrVerifier) Verify(r *http.Request) (domain.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return v.verifyLegacyHeaders(r)
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Nostr") {
		return domain.Identity{}, apperror.ErrMalformedAssertion("expected 'Nostr <token>' authorization scheme")
	}
	token = strings.TrimSpace(token)

	// A short token cannot be an encoded event. It is only meaningful as
	// part of the legacy scheme, where the identity comes from the header
	// pair, never from the token itself.
	if len(token) <= 64 {
		if !hex64Re.MatchString(token) {
			return domain.Identity{}, apperror.ErrMalformedLegacyCredential("token is neither a signed event nor a hex value")
		}
		if r.Header.Get(headerLegacyPubkey) == "" || r.Header.Get(headerLegacySignature) == "" {
			return domain.Identity{}, apperror.ErrMalformedLegacyCredential(
				"short authorization token requires " + headerLegacyPubkey + " and " + headerLegacySignature + " headers")
		}
		return v.verifyLegacyHeaders(r)
	}

	return v.verifySignedEvent(r, token)
}

// verifySignedEvent runs the full NIP-98 verification path.
func (v *NostrVerifier) verifySignedEvent(r *http.Request, token string) (domain.Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(token); err != nil {
			return domain.Identity{}, apperror.ErrMalformedAssertion("invalid base64 encoding")
		}
	}

	var event nostrEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.Identity{}, apperror.ErrMalformedAssertion("invalid event JSON")
	}
	if !hex64Re.MatchString(event.PubKey) {
		return domain.Identity{}, apperror.ErrMalformedAssertion("pubkey must be 64 hex chars")
	}
	if !hex64Re.MatchString(event.ID) {
		return domain.Identity{}, apperror.ErrMalformedAssertion("event id must be 64 hex chars")
	}
	if !hex128Re.MatchString(event.Sig) {
		return domain.Identity{}, apperror.ErrMalformedAssertion("signature must be 128 hex chars")
	}
	if event.Kind != kindHTTPAuth && event.Kind != kindRelayAuth {
		return domain.Identity{}, apperror.ErrUnsupportedKind(event.Kind)
	}

	// The event id must be the sha256 of the canonical serialization.
	computedID, err := eventID(&event)
	if err != nil {
		return domain.Identity{}, apperror.ErrMalformedAssertion("event not serializable")
	}
	if !strings.EqualFold(computedID, event.ID) {
		return domain.Identity{}, apperror.ErrMalformedAssertion("event id does not match content")
	}

	if err := verifySchnorr(event.PubKey, event.ID, event.Sig); err != nil {
		return domain.Identity{}, apperror.ErrInvalidSignature()
	}

	// Timestamp window, inclusive at the tolerance boundary. Checked after
	// the signature so a forged event never reports a freshness reason.
	diff := v.now().Unix() - event.CreatedAt
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(v.tolerance.Seconds()) {
		return domain.Identity{}, apperror.ErrTimestampOutOfWindow(diff)
	}

	// Tag binding: a wrong method rejects, a wrong URL only logs. Clients
	// behind proxies routinely sign a different externally visible URL.
	if err := v.checkTags(r, &event); err != nil {
		return domain.Identity{}, err
	}

	// Replay guard, degrade open: an unavailable store must not take auth
	// down with it.
	if v.replay != nil {
		fresh, err := v.replay.CheckAndSet(r.Context(), strings.ToLower(event.ID), 2*v.tolerance)
		if err != nil {
			v.log.Warn().Err(err).Msg("replay guard unavailable, accepting event unchecked")
		} else if !fresh {
			return domain.Identity{}, apperror.ErrReplayedAssertion()
		}
	}

	return domain.Identity{PubKey: strings.ToLower(event.PubKey), Trust: domain.TrustFull}, nil
}

// checkTags binds the event to the request via its 'method' and 'u' tags.
func (v *NostrVerifier) checkTags(r *http.Request, event *nostrEvent) error {
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "method":
			if !strings.EqualFold(tag[1], r.Method) {
				return apperror.ErrMethodMismatch(tag[1], r.Method)
			}
		case "u":
			if tag[1] != requestURL(r) {
				v.log.Warn().
					Str("tag_url", tag[1]).
					Str("request_url", requestURL(r)).
					Str("pubkey", event.PubKey).
					Msg("auth event 'u' tag does not match request URL")
			}
		}
	}
	return nil
}

// verifyLegacyHeaders authenticates via the bare pubkey/signature header
// pair. The signature is checked for shape only; nothing binds it to this
// request, hence weak trust.
func (v *NostrVerifier) verifyLegacyHeaders(r *http.Request) (domain.Identity, error) {
	pubkey := r.Header.Get(headerLegacyPubkey)
	sig := r.Header.Get(headerLegacySignature)
	if pubkey == "" && sig == "" {
		return domain.Identity{}, apperror.ErrMissingAuth()
	}
	if !hex64Re.MatchString(pubkey) {
		return domain.Identity{}, apperror.ErrMalformedLegacyCredential("pubkey must be 64 hex chars")
	}
	if !hex128Re.MatchString(sig) {
		return domain.Identity{}, apperror.ErrMalformedLegacyCredential("signature must be 128 hex chars")
	}
	return domain.Identity{PubKey: strings.ToLower(pubkey), Trust: domain.TrustWeak}, nil
}

// eventID computes the canonical Nostr event id: the hex sha256 of
// [0, pubkey, created_at, kind, tags, content] serialized without HTML
// escaping (Go's default escaping of &, < and > would break ids signed by
// standard clients).
func eventID(event *nostrEvent) (string, error) {
	canonical := []interface{}{
		0,
		event.PubKey,
		event.CreatedAt,
		event.Kind,
		event.Tags,
		event.Content,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return "", err
	}
	// Encode appends a newline the canonical form does not include.
	serialized := bytes.TrimRight(buf.Bytes(), "\n")

	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:]), nil
}

// verifySchnorr checks a BIP-340 signature over the event id with the
// x-only pubkey.
func verifySchnorr(pubkeyHex, idHex, sigHex string) error {
	pubkeyBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return err
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return err
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return err
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(idHex)
	if err != nil {
		return err
	}
	if !sig.Verify(idBytes, pubkey) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

// requestURL reconstructs the externally visible request URL.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
