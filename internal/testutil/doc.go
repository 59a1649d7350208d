// Package testutil provides a controllable clock and a fake Keycloak server
// for deterministic tests of the token manager, the lookup service and the
// HTTP handler.
package testutil
