// Package shopify is a narrow client for the parts of the Shopify Admin API
// this service needs: the OAuth authorization-code flow, discount provisioning
// through GraphQL, and webhook subscription.
package shopify
