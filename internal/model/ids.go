package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const syntheticSuffixLen = 9

// NewSyntheticID returns an id of the form msg_{epochMillis}_{suffix} for
// messages that arrive without any provider id.
func NewSyntheticID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:syntheticSuffixLen]
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), suffix)
}

func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, "msg_")
}
