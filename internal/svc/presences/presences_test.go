package presences

import (
	"testing"
	"time"

	"github.com/seventv/relay/data/model"
	"github.com/seventv/relay/internal/testutil"
)

func TestRecordsToSnapshot(t *testing.T) {
	now := time.Now()

	records := map[string]model.PresenceRecordModel{
		"u2": {SessionID: "s2", UserID: "u2", DisplayName: "Bob", LastActiveAt: now.Add(-time.Minute).UnixMilli()},
		"u1": {SessionID: "s1", UserID: "u1", DisplayName: "Alice", LastActiveAt: now.UnixMilli()},
		"u3": {SessionID: "s3", UserID: "u3", DisplayName: "Cara", LastActiveAt: now.Add(-time.Hour).UnixMilli()},
	}

	snapshot := RecordsToSnapshot(records, time.Minute*5, now)

	testutil.Assert(t, 3, len(snapshot), "all records present")

	// Map iteration order must not leak into the snapshot
	testutil.Assert(t, "u1", snapshot[0].UserID, "ordered by user id")
	testutil.Assert(t, "u2", snapshot[1].UserID, "ordered by user id")
	testutil.Assert(t, "u3", snapshot[2].UserID, "ordered by user id")

	testutil.Assert(t, true, snapshot[0].IsActive, "fresh record is active")
	testutil.Assert(t, true, snapshot[1].IsActive, "record within the timeout is active")
	testutil.Assert(t, false, snapshot[2].IsActive, "stale record is inactive")

	testutil.Assert(t, "s1", snapshot[0].ID, "snapshot id is the session id")
	testutil.Assert(t, "Alice", snapshot[0].UserName, "display name carried over")
}

func TestRecordsToSnapshotEmpty(t *testing.T) {
	snapshot := RecordsToSnapshot(map[string]model.PresenceRecordModel{}, time.Minute, time.Now())

	if snapshot == nil {
		t.Fatal("empty snapshot should be an empty list, not nil")
	}

	testutil.Assert(t, 0, len(snapshot), "empty snapshot")
}
