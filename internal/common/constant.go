// Package common contains shared constants and sentinel errors used across
// the entitlement engine components.
package common

// AuthorizationHeaderName is the HTTP header carrying the bearer token on
// outbound backend requests.
const AuthorizationHeaderName = "Authorization"

// SubscriptionAPIBasePath is the backend base path for the credit and
// subscription contract.
const SubscriptionAPIBasePath = "/api/subscriptions"
