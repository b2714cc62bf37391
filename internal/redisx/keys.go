package redisx

import (
	"fmt"
	"time"

	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

const (
	// status:{kind}:{id} -> {seq}:{current status}
	KeyStatus = "status:%s:%s"

	// dedup:{scope}:{id}, e.g. dedup:payment:{order_id}:{transaction_status}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func StatusKey(ref ledger.Ref) string {
	return fmt.Sprintf(KeyStatus, ref.Kind, ref.ID)
}

func DedupKey(scope, id string) string {
	return fmt.Sprintf(KeyDedup, scope, id)
}
