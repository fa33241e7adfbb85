// Package connector links a brand account to its storefront through the
// platform's OAuth authorization-code flow and manages the stored credential.
//
// The brand is bound to the flow when it starts: the single-use state value
// carries the brand id, so the unauthenticated callback cannot be replayed or
// redirected onto another account.
package connector
