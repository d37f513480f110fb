package wire

import "errors"

// Error taxonomy for the wire codec. Every decode error is one of these;
// subscribers log and drop the offending message and continue — none of
// these are ever fatal to the owning thread (spec §7).
var (
	ErrInvalidLength        = errors.New("invalid message length")
	ErrInvalidAlignment     = errors.New("invalid message alignment")
	ErrInvalidChecksum      = errors.New("invalid checksum")
	ErrInvalidHeader        = errors.New("invalid message header")
	ErrInvalidExchange      = errors.New("invalid exchange id")
	ErrInvalidEncodingScheme = errors.New("invalid symbol encoding scheme")
	ErrInvalidCharacter     = errors.New("invalid character in symbol")
	ErrStringTooLong        = errors.New("string too long for any encoding scheme")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrBufferTooSmall       = errors.New("buffer too small")
)
