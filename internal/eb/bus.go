package eb

import (
	"sync"
	"time"

	"github.com/racepulse/core/internal/perrors"
)

// Bus is the Event Bus: a registry of topics plus their dead-letter sinks.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*Topic

	dlqMu sync.Mutex
	dlq   map[string][]DeadLetterEntry // topic -> dead letters
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string]*Topic),
		dlq:    make(map[string][]DeadLetterEntry),
	}
}

// RegisterTopic creates a topic with the given partition count and
// retention TTL. Idempotent by name.
func (b *Bus) RegisterTopic(name string, partitionCount int, retentionTTL time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return
	}
	b.topics[name] = newTopic(name, partitionCount, retentionTTL)
}

func (b *Bus) topic(name string) (*Topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	return t, ok
}

func (b *Bus) append(topicName string, e StreamEvent) error {
	t, ok := b.topic(topicName)
	if !ok {
		return perrors.New(perrors.KindValidationFailure, "eb.append", "unknown topic "+topicName)
	}
	t.partitionFor(e.PartitionKey).append(e)
	return nil
}

// ListDeadLetters returns every dead-letter entry recorded for topic,
// mirroring incident.CaptureIncident's pattern of assembling a diagnostic
// report from otherwise-internal state.
func (b *Bus) ListDeadLetters(topicName string) []DeadLetterEntry {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]DeadLetterEntry, len(b.dlq[topicName]))
	copy(out, b.dlq[topicName])
	return out
}

func (b *Bus) recordDeadLetter(entry DeadLetterEntry) {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	b.dlq[entry.Topic] = append(b.dlq[entry.Topic], entry)
}
