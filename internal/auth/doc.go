// Package auth verifies the bearer identity tokens presented by brands and
// creators.
//
// Tokens are PASETO v4.public. The account service that signs them is external;
// this package only needs the Ed25519 public key. When a secret key is
// configured (development, tests) the same Manager can also issue tokens.
package auth
