// Package auth attaches cloud credentials to outbound requests and tracks
// whether the provider currently accepts them.
//
// A Gate holds one credential, replaced wholesale by SetCredential after
// structural validation. The authenticated flag is driven only by response
// status codes passed to Observe: 2xx marks the gate authenticated, 401 and
// 403 mark it unauthenticated, anything else leaves it alone. Observe
// reports whether the flag changed so callers notify listeners once per
// transition rather than once per poll.
//
// Both the Met Office DataHub and UniFi Protect use a static key header:
//
//	gate := auth.New(auth.Config{Header: "apikey", Validator: auth.JWTValidator})
//	if err := gate.SetCredential(key); err != nil {
//	    return err // ErrInvalidCredentialFormat
//	}
package auth
