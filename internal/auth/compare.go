package auth

import "crypto/subtle"

// Equal reports whether a and b hold the same bytes without short-circuiting
// on content. Every call scans the full length of the longer input; only the
// lengths themselves may leak through timing.
func Equal(a, b []byte) bool {
	eq, _ := compare(a, b)
	return eq
}

// EqualString is [Equal] for strings.
func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}

// compare XOR-accumulates both inputs and returns the verdict along with the
// number of byte positions inspected.
func compare(a, b []byte) (bool, int) {
	n := max(len(a), len(b))
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	same := subtle.ConstantTimeByteEq(diff, 0)
	if len(a) != len(b) {
		same = 0
	}
	return same == 1, n
}
