package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "evv/pkg/platform/audit"
)

func TestInMemoryStore_AppendIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	var s InMemoryStore

	require.NoError(t, s.Append(ctx, audit.Event{ID: "e1", Subject: "record-1", Action: string(audit.EventClockIn)}))
	require.NoError(t, s.Append(ctx, audit.Event{ID: "e1", Subject: "record-1", Action: string(audit.EventClockIn)}))
	require.NoError(t, s.Append(ctx, audit.Event{ID: "e2", Subject: "record-1", Action: string(audit.EventClockOut)}))
	require.NoError(t, s.Append(ctx, audit.Event{ID: "e3", Subject: "record-2", Action: string(audit.EventClockIn)}))

	events, err := s.ListBySubject(ctx, "record-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)

	events[0].Action = "mutated"
	again, err := s.ListBySubject(ctx, "record-1")
	require.NoError(t, err)
	assert.Equal(t, string(audit.EventClockIn), again[0].Action, "callers get a copy")
}
