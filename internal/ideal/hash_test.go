package ideal

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func proxy(name, version string, deps ...*ProxyNode) *ProxyNode {
	return &ProxyNode{
		Kind:         KindExternal,
		Name:         name,
		Version:      version,
		Resolved:     "https://r/" + name + "-" + version + ".tgz",
		ExternalDeps: deps,
	}
}

func TestSubtreeHashKnownValues(t *testing.T) {
	assert.Equal(t, "OhhZM7992pf0Kam-sZvd9Q", SubtreeHash(proxy("a", "1.0.0")))
	assert.Equal(t, "d4Q-VqlCQVEwmNdM7hnTxQ", SubtreeHash(proxy("a", "1.0.0", proxy("b", "2.0.0"))))
}

func TestStoreKeyFormat(t *testing.T) {
	key := StoreKey(proxy("@scope/pkg", "1.2.3", proxy("dep", "1.0.0")))
	assert.Regexp(t, regexp.MustCompile(`^@scope/pkg@1\.2\.3-[A-Za-z0-9_-]{22}$`), key)
}

func TestSubtreeHashIgnoresDependencyOrder(t *testing.T) {
	b := proxy("b", "1.0.0")
	c := proxy("c", "1.0.0", proxy("d", "1.0.0"))

	first := proxy("a", "1.0.0", b, c)
	second := proxy("a", "1.0.0", c, b)

	assert.Equal(t, SubtreeHash(first), SubtreeHash(second))
}

func TestSubtreeHashIgnoresDependencyListKind(t *testing.T) {
	dep := proxy("b", "1.0.0")
	required := proxy("a", "1.0.0", dep)
	optional := proxy("a", "1.0.0")
	optional.OptionalDeps = []*ProxyNode{dep}

	// The hash covers the reachable closure, not how an edge was declared.
	assert.Equal(t, SubtreeHash(required), SubtreeHash(optional))
}

func TestStoreKeyEqualForIdenticalClosures(t *testing.T) {
	left := proxy("a", "1.0.0", proxy("b", "2.0.0", proxy("c", "3.0.0")))
	right := proxy("a", "1.0.0", proxy("b", "2.0.0", proxy("c", "3.0.0")))

	assert.NotSame(t, left, right)
	assert.Equal(t, StoreKey(left), StoreKey(right))
}

func TestStoreKeyDiffersOnTransitiveResolved(t *testing.T) {
	c1 := proxy("c", "3.0.0")
	c2 := proxy("c", "3.0.0")
	c2.Resolved = "https://mirror/c-3.0.0.tgz"

	left := proxy("a", "1.0.0", proxy("b", "2.0.0", c1))
	right := proxy("a", "1.0.0", proxy("b", "2.0.0", c2))

	assert.NotEqual(t, StoreKey(left), StoreKey(right))
}

func TestStoreKeyDiffersOnTransitiveVersion(t *testing.T) {
	left := proxy("a", "1.0.0", proxy("b", "2.0.0"))
	right := proxy("a", "1.0.0", proxy("b", "2.0.1"))

	assert.NotEqual(t, StoreKey(left), StoreKey(right))
}

func TestSubtreeHashTerminatesOnCycle(t *testing.T) {
	a := proxy("a", "1.0.0")
	b := proxy("b", "1.0.0", a)
	a.ExternalDeps = []*ProxyNode{b}

	hash := SubtreeHash(a)
	assert.Len(t, hash, 22)
	assert.NotEqual(t, SubtreeHash(proxy("a", "1.0.0", proxy("b", "1.0.0"))), hash)
}

func TestSubtreeHashSharedDependencyCountsEachPath(t *testing.T) {
	shared := proxy("s", "1.0.0")
	diamond := proxy("a", "1.0.0", proxy("b", "1.0.0", shared), proxy("c", "1.0.0", shared))
	single := proxy("a", "1.0.0", proxy("b", "1.0.0", shared), proxy("c", "1.0.0"))

	assert.NotEqual(t, SubtreeHash(diamond), SubtreeHash(single))
}
