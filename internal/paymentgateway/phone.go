package paymentgateway

import "strings"

const CountryCode = "254"

// NormalizePhoneNumber rewrites Kenyan MSISDNs into the 2547XXXXXXXX form
// Daraja expects. Formats it does not recognise are returned digits-only.
func NormalizePhoneNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, CountryCode):
		return digits
	case strings.HasPrefix(digits, "0"):
		return CountryCode + digits[1:]
	case len(digits) == 9:
		return CountryCode + digits
	default:
		return digits
	}
}

// MaskPhoneNumber keeps the prefix and last three digits for logging.
func MaskPhoneNumber(phone string) string {
	if len(phone) < 8 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-3:]
}
