// Package redis builds the shared go-redis client used by the account
// store, the per-user sequence lock and the Redis task queue.
package redis
