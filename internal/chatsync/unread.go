package chatsync

import "time"

// UnreadCount is the number of participants whose last-read time is missing
// or strictly before createdAt.
func UnreadCount(participants []string, lastRead map[string]time.Time, createdAt time.Time) int {
	count := 0
	for _, id := range participants {
		readAt, ok := lastRead[id]
		if !ok || readAt.IsZero() || readAt.Before(createdAt) {
			count++
		}
	}
	return count
}
