package password

import (
	"unicode"
	"unicode/utf8"
)

// ValidatePassword checks guardian password policy. It does not mutate input.
func (c Config) ValidatePassword(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.PasswordMinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.PasswordMaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidatePIN checks dependent PIN policy: digits only, within configured length.
func (c Config) ValidatePIN(pin string) error {
	n := utf8.RuneCountInString(pin)
	if n < c.Policy.PINMinDigits || n > c.Policy.PINMaxDigits {
		return ErrPINMalformed
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return ErrPINMalformed
		}
	}
	return nil
}
