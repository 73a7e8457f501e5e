package cardcipher

import (
	"fmt"
	"strings"
)

const (
	minCardDigits = 13
	maxCardDigits = 19
)

// Normalize strips spaces and hyphens and validates length and Luhn checksum.
func Normalize(plaintext string) (string, error) {
	number := strings.NewReplacer(" ", "", "-", "").Replace(plaintext)
	if number == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidInput)
	}
	if len(number) < minCardDigits || len(number) > maxCardDigits {
		return "", fmt.Errorf("%w: must have %d to %d digits", ErrInvalidInput, minCardDigits, maxCardDigits)
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return "", fmt.Errorf("%w: must contain only digits", ErrInvalidInput)
		}
	}
	if !ValidLuhn(number) {
		return "", fmt.Errorf("%w: checksum mismatch", ErrInvalidInput)
	}
	return number, nil
}

// ValidLuhn validates a digit string using the Luhn algorithm.
func ValidLuhn(digits string) bool {
	if digits == "" {
		return false
	}

	sum := 0
	double := false
	// Process from right to left
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
