package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
)

const testPath = "secret/data/radcred/encryption-key"

// fakeVault serves one KV v2 secret at testPath.
func fakeVault(t *testing.T, data map[string]any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vault-token", r.Header.Get("X-Vault-Token"))
		if r.URL.Path != "/v1/"+testPath || data == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": data, "metadata": map[string]any{"version": 1}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestKeySource_ReadsHexKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(255 - i)
	}
	server := fakeVault(t, map[string]any{"value": hex.EncodeToString(key)})

	ks, err := NewKeySource(server.URL, "vault-token", testPath, "value")
	require.NoError(t, err)

	got, err := ks.EncryptionKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestKeySource_Failures(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		field string
	}{
		{"missing secret", nil, "value"},
		{"missing field", map[string]any{"other": "x"}, "value"},
		{"short key", map[string]any{"value": "abcd"}, "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeVault(t, tt.data)
			ks, err := NewKeySource(server.URL, "vault-token", testPath, tt.field)
			require.NoError(t, err)

			_, err = ks.EncryptionKey(context.Background())
			require.Error(t, err)
			assert.True(t, errs.IsConfigurationError(err), "got %v", err)
		})
	}
}
