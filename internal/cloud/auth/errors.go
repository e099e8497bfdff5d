package auth

import "errors"

var (
	// ErrInvalidCredentialFormat is returned by SetCredential when the raw
	// credential fails structural validation. Nothing is sent to the network.
	ErrInvalidCredentialFormat = errors.New("auth: invalid credential format")

	// ErrNoCredential is returned by Decorate before a credential is set.
	ErrNoCredential = errors.New("auth: no credential configured")
)
