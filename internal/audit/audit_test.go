// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTrail(t *testing.T) *SQLiteTrail {
	t.Helper()
	trail, err := OpenSQLiteTrail(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

func TestSQLiteTrailAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	trail := openTrail(t)

	first := Event{
		Timestamp:  time.Now().UTC(),
		Type:       EventPublishSuccess,
		Actor:      "192.0.2.1",
		Resource:   "cultivator@0.0.0",
		Result:     "success",
		RemoteAddr: "192.0.2.1:51234",
		RequestID:  "req-1",
		Details:    map[string]string{"digest": "abc123"},
	}
	require.NoError(t, trail.Append(ctx, first))
	require.NoError(t, trail.Append(ctx, Event{
		Timestamp: time.Now().UTC(),
		Type:      EventYankSuccess,
		Actor:     "192.0.2.1",
		Resource:  "cultivator@0.0.0",
		Result:    "success",
	}))

	events, err := trail.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// newest first
	assert.Equal(t, EventYankSuccess, events[0].Type)
	assert.Equal(t, EventPublishSuccess, events[1].Type)
	assert.Equal(t, "cultivator@0.0.0", events[1].Resource)
	assert.Equal(t, "abc123", events[1].Details["digest"])
	assert.Equal(t, "req-1", events[1].RequestID)
}

func TestSQLiteTrailRecentLimit(t *testing.T) {
	ctx := context.Background()
	trail := openTrail(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, trail.Append(ctx, Event{
			Timestamp: time.Now().UTC(),
			Type:      EventAuthFailure,
			Actor:     "192.0.2.1",
			Resource:  "/api/v1/packages",
			Result:    "denied",
		}))
	}

	events, err := trail.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSQLiteTrailPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	trail, err := OpenSQLiteTrail(path)
	require.NoError(t, err)
	require.NoError(t, trail.Append(ctx, Event{
		Timestamp: time.Now().UTC(),
		Type:      EventPublishSuccess,
		Actor:     "system",
		Resource:  "numpy@1.14.2",
		Result:    "success",
	}))
	require.NoError(t, trail.Close())

	trail, err = OpenSQLiteTrail(path)
	require.NoError(t, err)
	defer func() { _ = trail.Close() }()

	events, err := trail.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "numpy@1.14.2", events[0].Resource)
}

func TestLoggerRecordWritesTrail(t *testing.T) {
	ctx := context.Background()
	trail := openTrail(t)
	logger := NewLogger(trail)

	logger.Publish(ctx, EventPublishSuccess, "192.0.2.9", "192.0.2.9:4000", "cultivator", "0.0.0",
		map[string]string{"digest": "deadbeef"})
	logger.Auth(ctx, EventAuthMissing, "192.0.2.9:4000", "/api/v1/packages")

	events, err := trail.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventAuthMissing, events[0].Type)
	assert.Equal(t, "denied", events[0].Result)
	assert.Equal(t, EventPublishSuccess, events[1].Type)
	assert.False(t, events[1].Timestamp.IsZero())
}

func TestLoggerNilTrail(t *testing.T) {
	// Must not panic without a durable trail.
	logger := NewLogger(nil)
	logger.Yank(context.Background(), "system", "", "numpy", "1.0.0")
}
