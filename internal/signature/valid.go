package signature

// Valid reports whether sig is long enough to be treated as a real
// continuation token rather than a cosmetic placeholder, matching the
// teacher's hasValidSignature / MinSignatureLength check.
func Valid(sig string, minLength int) bool {
	return len(sig) >= minLength
}
