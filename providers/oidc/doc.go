// Package oidc resolves an authorization server's OpenID Connect discovery
// document and validates the URLs and identifiers that go into it.
//
// The proxy performs discovery once at startup to learn the authorization and
// token endpoints of a realm; HealthCheck re-fetches the same document to
// verify the provider is reachable.
//
// # Example Usage
//
//	client := oidc.NewDiscoveryClient(nil, logger)
//
//	issuer := oidc.RealmIssuerURL("https://sso.example.com/auth/", "master")
//	doc, err := client.Discover(ctx, issuer)
//	if err != nil {
//	    return err
//	}
//
//	config := &oauth2.Config{
//	    Endpoint: oauth2.Endpoint{
//	        AuthURL:  doc.AuthorizationEndpoint,
//	        TokenURL: doc.TokenEndpoint,
//	    },
//	}
package oidc
