package eb

import (
	"hash/fnv"
	"sync"
	"time"
)

// Topic is a logical stream with a fixed partition count and a retention
// TTL, sharded the way store/redis.go shards ListStatesByStatus scans.
type Topic struct {
	Name           string
	PartitionCount int
	RetentionTTL   time.Duration

	mu         sync.Mutex
	partitions []*partition
}

func newTopic(name string, partitionCount int, retention time.Duration) *Topic {
	t := &Topic{Name: name, PartitionCount: partitionCount, RetentionTTL: retention}
	t.partitions = make([]*partition, partitionCount)
	for i := range t.partitions {
		t.partitions[i] = newPartition()
	}
	return t
}

// partitionFor hashes partitionKey to a partition index with FNV-1a,
// mirroring the teacher's hash/fnv sharding convention.
func (t *Topic) partitionFor(partitionKey string) *partition {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partitionKey))
	idx := int(h.Sum32()) % len(t.partitions)
	if idx < 0 {
		idx += len(t.partitions)
	}
	return t.partitions[idx]
}
