package server

import (
	"errors"
	"regexp"
	"strings"
)

// phonePattern is the canonical Kenyan MSISDN form Daraja accepts: country
// code plus a Safaricom (7xx) or Airtel-ported (1xx) subscriber number.
var phonePattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

var ErrInvalidPhoneNumber = errors.New("invalid_phone_number")

// NormalizePhone canonicalizes the common local formats (07XXXXXXXX,
// 01XXXXXXXX, +2547XXXXXXXX, 2547XXXXXXXX) to 254XXXXXXXXX. Anything that
// does not normalize cleanly is rejected before the abuse detector or the
// provider ever see it.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case len(cleaned) == 10 && strings.HasPrefix(cleaned, "0"):
		cleaned = "254" + cleaned[1:]
	case len(cleaned) == 9 && (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")):
		cleaned = "254" + cleaned
	}

	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidPhoneNumber
	}
	return cleaned, nil
}
