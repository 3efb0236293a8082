// Package shard provides shard key generation for distributed DynamoDB index tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// MembershipPK computes the sharded partition key for a membership index row.
// With numShards=1, all rows for a (field, member) pair go to shard "00".
// With numShards>1, rows are distributed across shards based on the record
// key hash, so hot members (prolific voters) don't pin one partition.
func MembershipPK(field, member, recordKey string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#%s#00", field, member)
	}
	h := fnv.New32a()
	h.Write([]byte(recordKey))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%s#%02x", field, member, shard)
}

// ShardPKs returns every partition key a (field, member) pair may occupy.
// Lookups fan out across these.
func ShardPKs(field, member string, numShards int) []string {
	if numShards <= 1 {
		return []string{fmt.Sprintf("%s#%s#00", field, member)}
	}
	pks := make([]string, numShards)
	for i := 0; i < numShards; i++ {
		pks[i] = fmt.Sprintf("%s#%s#%02x", field, member, i)
	}
	return pks
}

// PartitionSK computes a hash-suffixed sort key for a tree partition row,
// keeping rows with identical paths distinct without widening the key.
func PartitionSK(path, recordKey string) string {
	h := sha256.Sum256([]byte(recordKey))
	return fmt.Sprintf("%s#%s", path, hex.EncodeToString(h[:8]))
}
