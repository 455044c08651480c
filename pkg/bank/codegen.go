package bank

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Voucher tokens are fixed-width, drawn from an alphabet without easily
// confused characters (no 0/1/I/L/O), and rendered as dash-separated groups
// for human entry: RYDR-XXXX-XXXX. The format does not guarantee
// uniqueness; the ownership index probe does.
const (
	codePrefix      = "RYDR"
	codeAlphabet    = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	codeGroupLength = 4
	codeGroupCount  = 2
)

var codeValuePattern = regexp.MustCompile(
	fmt.Sprintf(`^%s(-[%s]{%d}){%d}$`, codePrefix, codeAlphabet, codeGroupLength, codeGroupCount),
)

// ValueGenerator produces candidate voucher tokens for the uniqueness probe.
type ValueGenerator func() (CodeValue, error)

// GenerateCodeValue draws a random candidate token.
func GenerateCodeValue() (CodeValue, error) {
	raw := make([]byte, codeGroupLength*codeGroupCount)
	if _, err := rand.Read(raw); err != nil {
		return CodeValue{}, fmt.Errorf("draw code value: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(codePrefix)
	for index, randomByte := range raw {
		if index%codeGroupLength == 0 {
			builder.WriteByte('-')
		}
		builder.WriteByte(codeAlphabet[int(randomByte)%len(codeAlphabet)])
	}
	return CodeValue{value: builder.String()}, nil
}
