package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taskflow/internal/platform/database/dbtest"
)

func TestLogger_LogAndList(t *testing.T) {
	db := dbtest.Open(t)
	l := NewLogger(db)

	ctx := WithClient(context.Background(), "10.0.0.1", "curl/8.0")
	l.Log(ctx, "usr_admin", ActionUserCreate, "user", "usr_1", map[string]interface{}{"role": "USER"})
	l.Log(context.Background(), "usr_admin", ActionSiteDelete, "site", "site_1", nil)
	l.Wait()

	entries, err := l.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byAction := map[string]AuditLog{}
	for _, e := range entries {
		byAction[e.Action] = e
	}

	created := byAction[ActionUserCreate]
	assert.Equal(t, "usr_admin", created.ActorID)
	assert.Equal(t, "usr_1", created.ResourceID)
	assert.Equal(t, "10.0.0.1", created.IPAddress)
	assert.Equal(t, "curl/8.0", created.UserAgent)
	assert.Equal(t, "USER", created.Metadata["role"])

	deleted := byAction[ActionSiteDelete]
	assert.Equal(t, "unknown", deleted.IPAddress)
	assert.Empty(t, deleted.Metadata)
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Log(context.Background(), "a", ActionUserDelete, "user", "u", nil)
	})
}
