package arenadata

import (
	"errors"
	"strconv"
	"strings"
)

// PublicBase is the canonical base-name token for purely-numeric
// ("public") arena names.
const PublicBase = "(public)"

// ErrNegativeNumber is returned by CreateName for n < 0.
var ErrNegativeNumber = errors.New("arenadata: arena number must be non-negative")

// ParsedName is the (base, number) decomposition of a full arena name.
type ParsedName struct {
	Base    string
	Number  int
	Public  bool
	Private bool
}

// ParseName implements spec §4.8.2's name-parsing algorithm: trim
// surrounding whitespace, strip a trailing decimal run as the number,
// and treat an empty base as the "(public)" namespace.
func ParseName(name string) (ParsedName, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ParsedName{}, false
	}

	i := len(trimmed)
	for i > 0 && trimmed[i-1] >= '0' && trimmed[i-1] <= '9' {
		i--
	}
	base := trimmed[:i]
	numberChars := trimmed[i:]

	if base == "" && numberChars == "" {
		return ParsedName{}, false
	}

	private := strings.HasPrefix(base, "#")

	if base == "" {
		n, err := strconv.Atoi(numberChars)
		if err != nil {
			return ParsedName{}, false
		}
		return ParsedName{Base: PublicBase, Number: n, Public: true}, true
	}

	var n int
	if numberChars != "" {
		parsed, err := strconv.Atoi(numberChars)
		if err != nil {
			return ParsedName{}, false
		}
		n = parsed
	}

	return ParsedName{Base: base, Number: n, Private: private}, true
}

// CreateName is the inverse of ParseName.
func CreateName(base string, number int) (string, error) {
	if number < 0 {
		return "", ErrNegativeNumber
	}
	if base == PublicBase || base == "" {
		return strconv.Itoa(number), nil
	}
	if number == 0 {
		return base, nil
	}
	return base + strconv.Itoa(number), nil
}
