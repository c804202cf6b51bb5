package events

// Topic constants for domain events emitted by the back office.
const (
	TopicPolicyUpdated        = "pricing.policy.updated"
	TopicOverrideUpdated      = "pricing.override.updated"
	TopicFactorDefaultChanged = "factorset.default_changed"
	TopicRulesBulkAdjusted    = "syncrule.bulk_adjusted"
	TopicPricePushed          = "channel.price_pushed"
	TopicPricePushFailed      = "channel.price_push_failed"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicPolicyUpdated,
		TopicOverrideUpdated,
		TopicFactorDefaultChanged,
		TopicRulesBulkAdjusted,
		TopicPricePushed,
		TopicPricePushFailed,
	}
}
