// Package mint implements the coordination pipeline at the heart of the
// service: validate a request, synthesize metadata, pin it to decentralized
// storage, and mint the token on chain, recording every attempt in the
// ledger and emitting lifecycle events.
package mint
