// Package mysql provides data access helpers backed by MySQL. It encapsulates
// connection pooling, schema bootstrap, and the API key repository consumed by
// the authentication service.
package mysql
