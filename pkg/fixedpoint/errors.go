package fixedpoint

import "errors"

// ErrInvalidCharacter is returned by ParseDecimalBytes when the input
// contains a byte outside the decimal-string grammar (not a digit, not the
// first '-', not the single '.'). It is never a panic: untrusted exchange
// payloads must be rejected with an error, not crash the parser thread.
var ErrInvalidCharacter = errors.New("invalid character in decimal string")
