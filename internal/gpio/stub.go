//go:build !linux

package gpio

// NewRealBank returns ErrUnsupported on non-Linux platforms.
func NewRealBank(chip string, pins []PinPair) ([]Channel, error) {
	return nil, ErrUnsupported
}
