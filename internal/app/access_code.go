package app

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// AccessCodeLength is the number of characters in a session access code.
	AccessCodeLength   = 6
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CodeGenerator produces candidate access codes.
type CodeGenerator func() (string, error)

// RandomAccessCode draws a code uniformly from A-Z0-9.
func RandomAccessCode() (string, error) {
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	var b strings.Builder
	b.Grow(AccessCodeLength)
	for i := 0; i < AccessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeAccessCode trims and upper-cases user input before lookup.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAccessCode reports whether code has the access code shape.
func ValidAccessCode(code string) bool {
	if len(code) != AccessCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(accessCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
