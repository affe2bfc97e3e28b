package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storygate/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	s := New(pool)
	_, err = s.Migrate(context.Background(), "../../migrations")
	require.NoError(t, err)
	return s
}

func TestCallLogRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	reqID := ksuid.New().String()
	capability := "test-" + reqID[:8]

	require.NoError(t, s.InsertCallLog(ctx, models.CallLog{
		RequestID:  reqID,
		Capability: capability,
		Model:      "cogview-4-250304",
		LatencyMS:  1200,
		Attempts:   3,
		Rotations:  1,
		CostCNY:    0.06,
		CreatedAt:  time.Now().UTC(),
	}))
	require.NoError(t, s.InsertCallLog(ctx, models.CallLog{
		RequestID:  reqID,
		Capability: capability,
		Model:      "cogview-4-250304",
		ErrorKind:  "rate_limited",
		CreatedAt:  time.Now().UTC(),
	}))

	logs, err := s.ListCallLogs(ctx, capability, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "rate_limited", logs[0].ErrorKind)

	got, err := s.GetCallLog(ctx, logs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rotations)

	usage, err := s.SummarizeUsage(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	var found bool
	for _, u := range usage {
		if u.Capability == capability {
			found = true
			assert.Equal(t, 2, u.Calls)
			assert.Equal(t, 1, u.Failures)
		}
	}
	assert.True(t, found)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := testStore(t)
	applied, err := s.Migrate(context.Background(), "../../migrations")
	require.NoError(t, err)
	assert.Empty(t, applied)
}
