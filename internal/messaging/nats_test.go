package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whisper/linechat/internal/moderation"
)

func TestSubjectFor(t *testing.T) {
	now := time.Now()
	assert.Equal(t, SubjectModerationReport, SubjectFor(moderation.NewReportEvent("a", "b", 1, now)))
	assert.Equal(t, SubjectModerationBan, SubjectFor(moderation.NewBanEvent("a", "b", 3, now, now)))
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
}
