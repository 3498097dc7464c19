package eb

import "time"

// deadLetterTopicSuffix names the companion topic each registered topic
// gets for poison messages, mirroring the "<topic>.dlq" convention used
// by the bus when a caller wants dead letters republished rather than
// only recorded for inspection.
const deadLetterTopicSuffix = ".dlq"

// DeadLetterTopicName returns the conventional dead-letter topic name for
// topicName.
func DeadLetterTopicName(topicName string) string {
	return topicName + deadLetterTopicSuffix
}

// RegisterDeadLetterTopic registers the companion dead-letter topic for
// topicName, so consumers that want to replay poison messages (rather
// than just list them via ListDeadLetters) can Subscribe to it like any
// other topic.
func (b *Bus) RegisterDeadLetterTopic(topicName string, retentionTTL time.Duration) {
	b.RegisterTopic(DeadLetterTopicName(topicName), 1, retentionTTL)
}

// PublishDeadLetter records entry in the topic's dead-letter ledger and,
// if a companion dead-letter topic has been registered, republishes the
// original event onto it so a recovery consumer group can pick it up.
func (b *Bus) PublishDeadLetter(entry DeadLetterEntry) {
	b.recordDeadLetter(entry)
	_ = b.append(DeadLetterTopicName(entry.Topic), entry.Event)
}
