package cache

import "github.com/google/uuid"

// Key builders shared by the API and the push worker. Keeping them in
// one place prevents two processes from disagreeing on a key shape.

// KeyActivePolicy is the cached active policy for a channel.
func KeyActivePolicy(channelID uuid.UUID) string {
	return "pricing:policy:" + channelID.String()
}

// KeyPushLock serializes push dispatch per channel.
func KeyPushLock(channelID uuid.UUID) string {
	return "pricesync:push:" + channelID.String()
}

// KeyQuoteRate is the rate limit bucket for quote requests from one caller.
func KeyQuoteRate(caller string) string {
	return "rl:quote:" + caller
}

// KeyBulkAdjustRate is the rate limit bucket for bulk rule adjustments.
func KeyBulkAdjustRate(caller string) string {
	return "rl:bulk-adjust:" + caller
}
