// Command radcred-keygen prints a new random RADCRED_ENCRYPTION_KEY in hex.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ericfisherdev/radcred/internal/secret"
)

func main() {
	key := make([]byte, secret.KeySize)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintln(os.Stderr, "read random bytes:", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(key))
}
