package regulation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	a := Fingerprint("采购管理办法", "第一条 为规范采购行为……")
	b := Fingerprint("采购管理办法", "第一条 为规范采购行为……")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestFingerprintDistinguishesEarlyContent(t *testing.T) {
	t.Parallel()

	a := Fingerprint("title", "alpha body")
	b := Fingerprint("title", "bravo body")
	assert.NotEqual(t, a, b)
}

func TestFingerprintIgnoresContentPastPrefix(t *testing.T) {
	t.Parallel()

	prefix := strings.Repeat("甲", 1000)
	a := Fingerprint("title", prefix+"tail one")
	b := Fingerprint("title", prefix+"tail two")
	assert.Equal(t, a, b)

	// A difference inside the prefix still changes the digest.
	c := Fingerprint("title", "乙"+prefix[3:])
	assert.NotEqual(t, a, c)
}

func TestFingerprintWithoutContent(t *testing.T) {
	t.Parallel()

	a := Fingerprint("only a title", "")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Fingerprint("another title", ""))
}
