package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	phoneAllowed = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigits    = regexp.MustCompile(`[^\d]`)
)

// FormatPhoneNumber normalizes a Brazilian phone number into a WhatsApp JID.
// Accepts local forms with or without the 55 country code and with or without
// the leading trunk zero: "(31) 99876-5432", "031998765432", "5531998765432".
func FormatPhoneNumber(phone string) (types.JID, error) {
	if !phoneAllowed.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short")
	}

	// Trunk zero before the area code: 031... -> 31...
	if strings.HasPrefix(cleaned, "0") && !strings.HasPrefix(cleaned, "00") {
		cleaned = cleaned[1:]
	}

	// Local number (DDD + 8 or 9 digits) gets the country code.
	if !strings.HasPrefix(cleaned, "55") && (len(cleaned) == 10 || len(cleaned) == 11) {
		cleaned = "55" + cleaned
	}

	if !strings.HasPrefix(cleaned, "55") {
		return types.JID{}, fmt.Errorf("phone number must start with 55 (Brazil), example: 5531998765432")
	}

	// 55 + DDD(2) + 8 digits (landline/legacy) or 9 digits (mobile).
	if len(cleaned) < 12 || len(cleaned) > 13 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.NewJID(cleaned, types.DefaultUserServer), nil
}
