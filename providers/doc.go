// Package providers defines the identity provider interface and the error
// kinds shared by the token manager, the lookup service and the HTTP layer.
//
// Implementations are provided in subpackages:
//   - providers/keycloak: Keycloak confidential client (client-credentials and refresh grants, admin user search)
//   - providers/mock: Mock provider for testing
//   - providers/oidc: OIDC discovery and URL validation utilities
//
// Provider implementations handle:
//   - Client-credentials token grants
//   - Refresh-token grants
//   - Authenticated user search
//   - Health checks
//
// Errors returned by providers are *Error values classified by Kind, so that
// callers can map them without inspecting messages:
//
//	switch providers.KindOf(err) {
//	case providers.KindAuth:
//	    // token endpoint rejected us or could not be reached
//	case providers.KindUpstream:
//	    // user search returned a non-success status
//	}
package providers
