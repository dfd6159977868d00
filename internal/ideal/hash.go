package ideal

import (
	"encoding/base64"
	"slices"
	"strings"

	"golang.org/x/crypto/sha3"
)

// hashSize is the SHAKE256 output length in bytes
const hashSize = 16

// SubtreeHash derives a short, filesystem-safe digest of everything reachable
// from node. Each visited node contributes "<path>::<resolved>", where path is
// the "/"-joined chain of name@version from node down to it. Lines are sorted
// before hashing, so edge order never changes the result.
func SubtreeHash(node *ProxyNode) string {
	lines := make(map[string]struct{})
	var branch []string
	onBranch := make(map[*ProxyNode]int)

	var visit func(n *ProxyNode)
	visit = func(n *ProxyNode) {
		branch = append(branch, n.Name+"@"+n.Version)
		lines[strings.Join(branch, "/")+"::"+n.Resolved] = struct{}{}

		// A node already on the branch is a real cycle: record it, don't descend.
		if onBranch[n] == 0 {
			onBranch[n]++
			for _, dep := range n.Dependencies() {
				visit(dep)
			}
			onBranch[n]--
		}

		branch = branch[:len(branch)-1]
	}
	visit(node)

	sorted := make([]string, 0, len(lines))
	for line := range lines {
		sorted = append(sorted, line)
	}
	slices.Sort(sorted)

	digest := make([]byte, hashSize)
	sha3.ShakeSum256(digest, []byte(strings.Join(sorted, ",")))
	return base64.RawURLEncoding.EncodeToString(digest)
}

// StoreKey names the store entry for node: "<name>@<version>-<subtree hash>"
func StoreKey(node *ProxyNode) string {
	return node.Name + "@" + node.Version + "-" + SubtreeHash(node)
}
