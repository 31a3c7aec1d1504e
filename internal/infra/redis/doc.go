// Package redis implements the shared admission-state stores on Redis.
// Every check-then-act sequence (window take, pattern observation, session
// validation) runs as a server-side Lua script so it is atomic relative to
// concurrent callers on the same key across all server instances. Expiry
// is TTL-based throughout; nothing is swept explicitly.
package redis
