// Package chain houses blockchain connectivity for the minting pipeline:
// client abstractions, multi-chain configuration helpers, and the Ethereum
// implementation that signs and submits mint transactions. It keeps the rest
// of the service decoupled from any particular network or node vendor.
package chain
