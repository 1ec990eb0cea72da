package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Placeholder framing. A placeholder is "REDACTED<" + UUID + ">".
const (
	placeholderPrefix = "REDACTED<"
	placeholderSuffix = ">"
	uuidLen           = 36
	// PlaceholderLen is the exact byte length of every placeholder token.
	PlaceholderLen = len(placeholderPrefix) + uuidLen + len(placeholderSuffix)
)

// ErrSessionUnknown is returned when resolving against a session that has
// no vault entries.
var ErrSessionUnknown = errors.New("unknown redaction session")

// entry is one write-once redaction mapping record.
type entry struct {
	nonce      []byte
	ciphertext []byte
	rule       string
	createdAt  time.Time
}

// sessionVault holds one session's key and mappings. Placeholders minted
// here never resolve in any other session: each session has its own AES key
// and its own token table.
type sessionVault struct {
	mu       sync.Mutex
	aead     cipher.AEAD
	byToken  map[string]entry
	byDigest map[uint64]string // xxhash(literal) -> placeholder, for dedup
}

// Vault manages per-session redaction mappings. Writes are serialized per
// session; reads across disjoint sessions proceed concurrently since key
// spaces never overlap.
type Vault struct {
	mu       sync.RWMutex
	sessions map[string]*sessionVault
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{sessions: make(map[string]*sessionVault)}
}

// session returns the vault for sessionID, creating it (with a fresh key)
// on first use.
func (v *Vault) session(sessionID string) (*sessionVault, error) {
	v.mu.RLock()
	sv, ok := v.sessions[sessionID]
	v.mu.RUnlock()
	if ok {
		return sv, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if sv, ok = v.sessions[sessionID]; ok {
		return sv, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	sv = &sessionVault{
		aead:     aead,
		byToken:  make(map[string]entry),
		byDigest: make(map[uint64]string),
	}
	v.sessions[sessionID] = sv
	return sv, nil
}

// Mint encrypts the literal under the session key and returns a placeholder
// token. Minting the same literal twice in one session returns the same
// placeholder (entries are write-once, read-many).
func (v *Vault) Mint(sessionID, literal, rule string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	if literal == "" {
		return "", errors.New("literal is required")
	}
	sv, err := v.session(sessionID)
	if err != nil {
		return "", err
	}

	digest := xxhash.Sum64String(literal)

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if token, ok := sv.byDigest[digest]; ok {
		return token, nil
	}

	nonce := make([]byte, sv.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := sv.aead.Seal(nil, nonce, []byte(literal), nil)

	token := placeholderPrefix + uuid.NewString() + placeholderSuffix
	sv.byToken[token] = entry{
		nonce:      nonce,
		ciphertext: ciphertext,
		rule:       rule,
		createdAt:  time.Now().UTC(),
	}
	sv.byDigest[digest] = token
	return token, nil
}

// Resolve decrypts the literal a placeholder stands for, using only the
// given session's mappings. Tokens from other sessions are not resolvable.
func (v *Vault) Resolve(sessionID, token string) (string, bool) {
	v.mu.RLock()
	sv, ok := v.sessions[sessionID]
	v.mu.RUnlock()
	if !ok {
		return "", false
	}

	sv.mu.Lock()
	e, ok := sv.byToken[token]
	sv.mu.Unlock()
	if !ok {
		return "", false
	}

	plaintext, err := sv.aead.Open(nil, e.nonce, e.ciphertext, nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// DropSession discards a session's key and mappings. Lifetime of a mapping
// is bound to its session.
func (v *Vault) DropSession(sessionID string) {
	v.mu.Lock()
	delete(v.sessions, sessionID)
	v.mu.Unlock()
}
