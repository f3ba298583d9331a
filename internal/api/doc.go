// Package api exposes the REST surface of the minting service: submitting
// mint requests, inspecting the mint ledger, and health/metrics endpoints.
// Authentication, rate limiting, and request metrics are applied here so the
// inner coordinator stays transport-agnostic.
package api
