// Package auth implements the shared-secret gate in front of every
// protected route. Callers present the secret in the X-API-Key header;
// StaticKey compares it in constant time.
//
// The Authenticator interface keeps the transport independent of the
// credential scheme. Rejections come in two shapes: WriteRESTUnauthorized
// for the REST surface and WriteRPCUnauthorized for the JSON-RPC endpoint,
// both with status 401 and no downstream side effects.
package auth
