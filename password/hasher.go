package password

// Scheme is one concrete password hashing algorithm.
type Scheme interface {
	Owns(encodedHash string) bool
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Hasher hashes with a primary scheme and verifies with whichever registered
// scheme owns a stored digest.
type Hasher struct {
	primary Scheme
	legacy  []Scheme
}

// NewHasher returns a Hasher that writes primary digests and still accepts
// digests produced by any of legacy.
func NewHasher(primary Scheme, legacy ...Scheme) *Hasher {
	return &Hasher{primary: primary, legacy: legacy}
}

// Hash returns a digest from the primary scheme.
func (h *Hasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

// Verify checks password against encodedHash. needsRehash is true when the
// password matched but the digest should be replaced with a primary-scheme
// digest of current strength.
func (h *Hasher) Verify(password, encodedHash string) (ok bool, needsRehash bool, err error) {
	scheme := h.schemeFor(encodedHash)
	if scheme == nil {
		return false, false, ErrUnsupportedHash
	}

	ok, err = scheme.Verify(password, encodedHash)
	if err != nil || !ok {
		return false, false, err
	}

	if scheme != h.primary {
		return true, true, nil
	}
	upgrade, err := scheme.NeedsUpgrade(encodedHash)
	if err != nil {
		// The password matched; a digest we cannot inspect is rehashed.
		return true, true, nil
	}
	return true, upgrade, nil
}

func (h *Hasher) schemeFor(encodedHash string) Scheme {
	if h.primary.Owns(encodedHash) {
		return h.primary
	}
	for _, s := range h.legacy {
		if s.Owns(encodedHash) {
			return s
		}
	}
	return nil
}
