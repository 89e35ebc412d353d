package password

import (
	"errors"
	"strings"
)

var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher hashes and verifies user passwords. Verify never errors: a wrong
// password or an unparseable hash both yield false.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// Algorithm names a hashing scheme accepted by New.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Label returns a human-readable label.
func (a Algorithm) Label() string {
	switch a {
	case AlgorithmBcrypt:
		return "bcrypt"
	case AlgorithmArgon2id:
		return "Argon2id"
	default:
		return string(a)
	}
}

// New returns a Hasher that produces hashes with algo and verifies hashes
// produced by any supported algorithm.
func New(algo Algorithm, bcryptCost int) (Hasher, error) {
	bc := NewBcrypt(bcryptCost)
	ar := NewArgon2id()

	switch algo {
	case AlgorithmBcrypt, "":
		return &multiHasher{primary: bc, bcrypt: bc, argon: ar}, nil
	case AlgorithmArgon2id:
		return &multiHasher{primary: ar, bcrypt: bc, argon: ar}, nil
	default:
		return nil, errors.New("unsupported password algorithm: " + string(algo))
	}
}

type multiHasher struct {
	primary Hasher
	bcrypt  *Bcrypt
	argon   *Argon2id
}

func (m *multiHasher) Hash(plain string) (string, error) {
	return m.primary.Hash(plain)
}

func (m *multiHasher) Verify(plain, hash string) bool {
	if strings.HasPrefix(hash, argon2idPrefix) {
		return m.argon.Verify(plain, hash)
	}
	return m.bcrypt.Verify(plain, hash)
}
