package driven

import "context"

// KeySource supplies the 256-bit encryption key at startup.
type KeySource interface {
	EncryptionKey(ctx context.Context) ([]byte, error)
}
