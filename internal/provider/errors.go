package provider

import "errors"

var (
	ErrNotFound       = errors.New("provider: not found")
	ErrInvalidLocator = errors.New("provider: invalid locator")
	ErrUnavailable    = errors.New("provider: unavailable")
	ErrNotSupported   = errors.New("provider: not supported")
	ErrTemporary      = errors.New("provider: temporary failure")
)

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsInvalidLocator(err error) bool { return errors.Is(err, ErrInvalidLocator) }
func IsUnavailable(err error) bool    { return errors.Is(err, ErrUnavailable) }
func IsNotSupported(err error) bool   { return errors.Is(err, ErrNotSupported) }
func IsTemporary(err error) bool      { return errors.Is(err, ErrTemporary) }
