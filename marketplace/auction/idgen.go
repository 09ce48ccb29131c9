package auction

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
)

const (
	referenceLength     = 8
	referenceMaxRetries = 5
)

// ReferenceGenerator produces short listing reference codes, the
// human-facing handle for an auction. Uniqueness within the process is
// tracked in memory; the column's unique constraint is the backstop.
type ReferenceGenerator struct {
	used sync.Map
}

func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{}
}

func (g *ReferenceGenerator) Next() (string, error) {
	for i := 0; i < referenceMaxRetries; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		code := strings.ToUpper(base32.StdEncoding.EncodeToString(buf)[:referenceLength])

		if _, exists := g.used.LoadOrStore(code, true); !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique reference after %d attempts", referenceMaxRetries)
}

// Forget releases a code that never reached the database.
func (g *ReferenceGenerator) Forget(code string) {
	g.used.Delete(code)
}
