// Package memory provides in-process implementations of the admission and
// session stores. They mirror the Redis stores' semantics, with a mutex
// standing in for script atomicity, and are intended for tests and
// single-instance deployments where shared state is unnecessary.
package memory
