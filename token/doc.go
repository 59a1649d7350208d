// Package token keeps an OAuth2 access token for an identity provider fresh.
//
// A Manager starts without tokens. The first ValidToken call performs a
// client-credentials grant; later calls return the stored access token while
// it is more than the expiry margin away from expiring, renew it with the
// refresh-token grant once it is not, and start over with a new
// client-credentials grant once the refresh token itself is about to expire.
//
// Example:
//
//	mgr := token.NewManager(provider, token.Config{ClientID: "idp-lookup"})
//	tok, err := mgr.ValidToken(ctx)
//	if err != nil {
//	    return err // an AuthError
//	}
//	tok.SetAuthHeader(req)
package token
