package session

import "fmt"

const keyPrefix = "dust"

// sessionKey returns the Redis key of the hash holding a session record.
func sessionKey(token string) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, token)
}
