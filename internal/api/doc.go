// Package api implements the HTTP REST API and WebSocket server for EchoBeacon Core.
//
// This package provides:
//   - Broker connection control (status, connect, disconnect) and raw publish
//   - The pairing screen: live sets, selection and confirmation
//   - Vehicle and beacon registration, vehicle removal and the locate command
//   - Audit log listing
//   - A WebSocket hub pushing connection status, pairing changes and beacon
//     status messages
//
// # Security
//
// Protected routes expect a bearer token issued by the authentication
// provider (HS256, validated by auth.Verifier). Without a configured secret
// the routes are open. WebSocket connections use single-use tickets obtained
// from POST /api/v1/auth/ws-ticket so the token never appears in a URL.
//
// # Errors
//
// Domain errors map to stable codes: transport_error (502) for broker
// failures, validation_error (400), inconsistent_state (409) for a pairing
// or removal whose second write failed, conflict (409) for duplicate plates
// or beacon codes, and not_found (404).
package api
