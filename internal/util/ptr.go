// Package util holds small generic helpers.
package util

// Ptr returns a pointer to the given value.
// Optional balances and other pointer literals in tests are built with it.
func Ptr[T any](v T) *T {
	return &v
}
