package domain

// TrustLevel describes how strongly a caller identity was verified.
type TrustLevel string

const (
	// TrustFull: the pubkey signed a NIP-98 event bound to this request.
	TrustFull TrustLevel = "full"
	// TrustWeak: legacy header credentials were syntactically valid but no
	// signature could be checked against this request. Money-moving
	// operations must refuse this level.
	TrustWeak TrustLevel = "weak"
)

// Identity is a cryptographically verified caller identity. It exists only
// for the duration of a request and is never persisted.
type Identity struct {
	PubKey string // 64 lowercase hex chars (32-byte x-only pubkey)
	Trust  TrustLevel
}

// IsFull reports whether the identity was proven by a request-bound signature.
func (i Identity) IsFull() bool {
	return i.Trust == TrustFull
}
