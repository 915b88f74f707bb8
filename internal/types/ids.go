package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewBulletID returns a fresh bullet id: b-<unix millis>-<8 random chars>.
func NewBulletID(now time.Time) string {
	return newID("b", now)
}

// NewDiaryID returns a fresh diary id.
func NewDiaryID(now time.Time) string {
	return newID("d", now)
}

// NewTraumaID returns a fresh trauma entry id.
func NewTraumaID(now time.Time) string {
	return newID("t", now)
}

func newID(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), random)
}
