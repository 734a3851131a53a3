package setupcode

import (
	"errors"
	"strings"
)

const base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// errBase38 is wrapped by ErrInvalidQRCode.
var errBase38 = errors.New("invalid base38 data")

// base38CharsPerChunk maps a byte chunk length (1..3) to its character count.
var base38CharsPerChunk = [4]int{0, 2, 4, 5}

func base38Encode(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 3 {
		n := min(3, len(data)-i)
		var v uint32
		for j := n - 1; j >= 0; j-- {
			v = v<<8 | uint32(data[i+j])
		}
		for k := 0; k < base38CharsPerChunk[n]; k++ {
			sb.WriteByte(base38Alphabet[v%38])
			v /= 38
		}
	}
	return sb.String()
}

func base38Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*3/5+2)
	for i := 0; i < len(s); {
		remaining := len(s) - i
		var chars, n int
		switch {
		case remaining >= 5:
			chars, n = 5, 3
		case remaining == 4:
			chars, n = 4, 2
		case remaining == 2:
			chars, n = 2, 1
		default:
			return nil, errBase38
		}

		var v uint64
		for k := chars - 1; k >= 0; k-- {
			idx := strings.IndexByte(base38Alphabet, s[i+k])
			if idx < 0 {
				return nil, errBase38
			}
			v = v*38 + uint64(idx)
		}
		if v>>(8*n) != 0 {
			return nil, errBase38
		}
		for j := 0; j < n; j++ {
			out = append(out, byte(v>>(8*j)))
		}
		i += chars
	}
	return out, nil
}
