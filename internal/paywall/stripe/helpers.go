package stripe

// isSafeRef validates that an identifier is safe to embed in checkout
// metadata and to use as a lookup key when the provider echoes it back.
// Checkout and reconciliation must agree on this check: anything accepted
// here must be accepted again on the webhook side, and vice versa.
func isSafeRef(ref string) bool {
	if len(ref) < 2 || len(ref) > 128 {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
