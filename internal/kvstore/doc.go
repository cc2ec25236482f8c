/*
Package kvstore provides the persistent key-value stores the recipe cache
snapshots its state into.

Every backend implements types.KVStore: string keys, opaque string values,
and Get/Set/Remove/Clear. The cache never asks a store to interpret a value.

Backends:

	memory   in-process map, used by tests and ephemeral deployments
	file     one gzip-compressed file per key plus a JSON index
	redis    go-redis client (single node or cluster) under a key prefix
	s3       objects under a bucket prefix, uploads through cargoship
	nats     JetStream key-value bucket

A QuotaStore can wrap any backend to emulate a device storage quota. When a
write would exceed the quota it fails with a STORAGE_FULL error, which is the
signal the cache's storage-pressure handling reacts to. Backends that can
detect a native full condition (ENOSPC, Redis OOM, JetStream max bytes)
report the same error code.
*/
package kvstore
