package queue

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func randomToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
