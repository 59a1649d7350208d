// Package lookup resolves a single attribute/value query to at most one user
// record at an identity provider.
//
// The provider's search may be fuzzy, so the response is scanned in order
// and the first record whose attribute exactly equals the value is returned
// as the provider sent it. No match yields an empty result, encoded as {}.
package lookup
