//go:build !unix

package jsonstore

// Lock is a no-op where flock is unavailable; the atomic rename still
// keeps readers consistent.
func Lock(string) (func(), error) {
	return func() {}, nil
}
