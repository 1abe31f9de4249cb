package ids

import (
	"math/big"

	"github.com/google/uuid"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Length of every generated ID. A 128-bit value needs at most 22
	// base62 digits; shorter values are left-padded with '0'.
	Length = 22
)

// New returns a 22-character base62 identifier derived from a time-ordered
// UUIDv7. IDs generated in sequence within a process sort in creation order.
func New() string {
	u := uuid.Must(uuid.NewV7())

	n := new(big.Int).SetBytes(u[:])
	base := big.NewInt(62)
	mod := new(big.Int)

	buf := make([]byte, Length)
	for i := range buf {
		buf[i] = '0'
	}
	for i := Length - 1; n.Sign() > 0 && i >= 0; i-- {
		n.DivMod(n, base, mod)
		buf[i] = base62Chars[mod.Int64()]
	}
	return string(buf)
}
