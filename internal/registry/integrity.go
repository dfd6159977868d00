package registry

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

// IntegrityError reports a tarball whose digest does not match its lockfile entry
type IntegrityError struct {
	Locator  string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: expected %s, got %s", e.Locator, e.Expected, e.Actual)
}

var integrityHashes = map[string]func() hash.Hash{
	"sha512": sha512.New,
	"sha384": sha512.New384,
	"sha256": sha256.New,
	"sha1":   sha1.New,
}

// VerifyIntegrity checks data against a Subresource Integrity string such as
// "sha512-<base64>". Several space separated digests may be given; any
// supported match is enough. An empty string skips the check.
func VerifyIntegrity(data []byte, sri string) error {
	if strings.TrimSpace(sri) == "" {
		return nil
	}

	var actual string
	for _, entry := range strings.Fields(sri) {
		algo, expected, ok := strings.Cut(entry, "-")
		if !ok {
			continue
		}
		newHash, ok := integrityHashes[algo]
		if !ok {
			continue
		}
		// options such as "?foo" may trail the digest
		expected, _, _ = strings.Cut(expected, "?")

		h := newHash()
		h.Write(data)
		digest := base64.StdEncoding.EncodeToString(h.Sum(nil))
		if digest == expected {
			return nil
		}
		if actual == "" {
			actual = algo + "-" + digest
		}
	}

	if actual == "" {
		return fmt.Errorf("no supported digest in integrity %q", sri)
	}
	return &IntegrityError{Expected: sri, Actual: actual}
}

// Integrity returns the sha512 SRI string of data
func Integrity(data []byte) string {
	sum := sha512.Sum512(data)
	return "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
}
