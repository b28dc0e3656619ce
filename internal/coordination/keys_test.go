package coordination

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_AreTenantScoped(t *testing.T) {
	k := NewKeys("lbs")

	a := k.RoundRobinPointer("tenant-a", "g1")
	b := k.RoundRobinPointer("tenant-b", "g1")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "lbs:rr:{tenant-a:g1}", a)

	assert.Equal(t, "lbs:idem:{t}:call.start:s1:e1", k.Idempotency("t", "call.start", "s1", "e1"))
	assert.Equal(t, "lbs:lock:{t}:session:s1", k.SessionLock("t", "s1"))
	assert.Equal(t, "lbs:lock:{t}:group:g", k.GroupLock("t", "g"))
}

func TestKeys_SanitizeSegments(t *testing.T) {
	k := NewKeys("lbs")

	// A crafted id must not escape its tenant or widen a SCAN pattern.
	key := k.Session("a:b}*", "x")
	assert.Equal(t, "lbs:session:{a_b__}:x", key)
	assert.False(t, strings.ContainsAny(k.LoadWindow("t", "g", "a*?"), "*?"))
	assert.Equal(t, "lbs:session:{_}:_", k.Session("", ""))
}

func TestKeys_GroupKeysShareHashTag(t *testing.T) {
	k := NewKeys("")
	w1 := k.LoadWindow("t", "g", "a1")
	w2 := k.LoadWindow("t", "g", "a2")
	assert.True(t, strings.HasPrefix(w1, "lbs:lb:{t:g}:"))
	assert.True(t, strings.HasPrefix(w2, "lbs:lb:{t:g}:"))
	assert.Equal(t, "lbs:prio:{t:g}:*", k.PriorityRotationPattern("t", "g"))
}
