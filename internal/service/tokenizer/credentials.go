package tokenizer

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// keySource resolves the provider API key once and caches it for the life of
// the process. The mutex keeps concurrent first fetches from racing; rotation
// requires a restart.
type keySource struct {
	mu       sync.Mutex
	key      string
	resolved bool

	staticKey string
	keyFile   string
}

func newKeySource(staticKey, keyFile string) *keySource {
	return &keySource{staticKey: staticKey, keyFile: keyFile}
}

// Get returns the cached key, fetching it on first use. A failed fetch is not
// cached, so a later call can succeed once the secret becomes readable.
func (s *keySource) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.key, nil
	}

	key := strings.TrimSpace(s.staticKey)
	if key == "" && s.keyFile != "" {
		raw, err := os.ReadFile(s.keyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read tokenizer key file: %w", err)
		}
		key = strings.TrimSpace(string(raw))
	}
	if key == "" {
		return "", fmt.Errorf("tokenizer API key not configured")
	}

	s.key = key
	s.resolved = true
	return s.key, nil
}
