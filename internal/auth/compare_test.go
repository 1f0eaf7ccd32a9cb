package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "signature", "signature", true},
		{"both empty", "", "", true},
		{"first byte differs", "xignature", "signature", false},
		{"last byte differs", "signaturx", "signature", false},
		{"prefix", "sign", "signature", false},
		{"empty vs non-empty", "", "a", false},
		{"padding with zero bytes", "ab\x00", "ab", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Equal([]byte(tc.a), []byte(tc.b)))
			assert.Equal(t, tc.want, EqualString(tc.b, tc.a))
		})
	}
}

func TestCompareScansLongerInput(t *testing.T) {
	t.Parallel()

	a := make([]byte, 32)
	b := make([]byte, 32)
	b[0] = 1

	eq, scanned := compare(a, b)
	assert.False(t, eq)
	assert.Equal(t, 32, scanned, "mismatch at index 0 must not stop the scan")

	eq, scanned = compare(a[:4], b)
	assert.False(t, eq)
	assert.Equal(t, 32, scanned)

	eq, scanned = compare(b, a[:7])
	assert.False(t, eq)
	assert.Equal(t, 32, scanned)

	eq, scanned = compare(a, a)
	assert.True(t, eq)
	assert.Equal(t, 32, scanned)
}

func TestAdminKeyMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, AdminKeyMatches("admin-key", "admin-key"))
	assert.False(t, AdminKeyMatches("admin-kez", "admin-key"))
	assert.False(t, AdminKeyMatches("", ""), "empty configured key must fail closed")
	assert.False(t, AdminKeyMatches("anything", "  "))
}

func BenchmarkEqual32(b *testing.B) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	for b.Loop() {
		_ = Equal(x, y)
	}
}
