package sqlite

import (
	"context"
	"testing"

	"github.com/ericfisherdev/radcred/internal/secret"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader pools share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := openDB(context.Background(), memoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func testCipher(t *testing.T) *secret.Cipher {
	t.Helper()

	key := make([]byte, secret.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	c, err := secret.NewCipher(key)
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}
	return c
}

func setupCredentialRepo(t *testing.T) (*CredentialRepo, *DB, *secret.Cipher) {
	t.Helper()

	db := setupTestDB(t)
	c := testCipher(t)
	return NewCredentialRepo(db, c, secret.Generator{Style: secret.StyleFriendly, Length: 12}), db, c
}
