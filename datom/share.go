package datom

import (
	"fmt"
	"strings"
)

// Shareable ids render an ID as Crockford base32 with an ISO 7064 mod 97-10
// checksum, hyphenated every 5 characters: e.g. "3sbk2-5j060".

const crockford = "0123456789abcdefghjkmnpqrstvwxyz"

const shareSplit = 5

// ShareID encodes id for humans to read, type and pass around.
func ShareID(id ID) string {
	n := uint64(id)
	var digits []byte
	if n == 0 {
		digits = []byte{'0'}
	}
	for n > 0 {
		digits = append(digits, crockford[n%32])
		n /= 32
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	raw := string(digits) + fmt.Sprintf("%02d", checksum(uint64(id)))
	return hyphenate(raw, shareSplit)
}

// ParseSharedID decodes a shareable id, correcting common typos:
// case is ignored, hyphens dropped, I and L read as 1, O read as 0.
func ParseSharedID(s string) (ID, error) {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	clean = strings.NewReplacer("i", "1", "l", "1", "o", "0").Replace(clean)
	if len(clean) < 3 {
		return 0, fmt.Errorf("shared id %q: too short", s)
	}
	body, sum := clean[:len(clean)-2], clean[len(clean)-2:]
	var n uint64
	for _, r := range body {
		d := strings.IndexRune(crockford, r)
		if d < 0 {
			return 0, fmt.Errorf("shared id %q: invalid character %q", s, r)
		}
		if n > (1<<63-1)/32 {
			return 0, fmt.Errorf("shared id %q: overflows", s)
		}
		n = n*32 + uint64(d)
	}
	if sum[0] < '0' || sum[0] > '9' || sum[1] < '0' || sum[1] > '9' {
		return 0, fmt.Errorf("shared id %q: malformed checksum", s)
	}
	want := uint64(sum[0]-'0')*10 + uint64(sum[1]-'0')
	if checksum(n) != want {
		return 0, fmt.Errorf("shared id %q: checksum mismatch", s)
	}
	return ID(n), nil
}

// checksum is ISO 7064 mod 97-10.
func checksum(n uint64) uint64 {
	return 98 - ((n%97)*100)%97
}

func hyphenate(s string, every int) string {
	if every <= 0 || len(s) <= every {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += every {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+every, len(s))
		b.WriteString(s[i:end])
	}
	return b.String()
}
