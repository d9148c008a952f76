package events

import (
	"testing"
	"time"

	"github.com/seventv/relay/internal/testutil"
)

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame(TypeHeartbeat, HeartbeatPayload{Timestamp: "2026-01-02T15:04:05Z"})
	testutil.IsNil(t, err, "encode ok")
	testutil.Assert(t,
		"event: heartbeat\ndata: {\"timestamp\":\"2026-01-02T15:04:05Z\"}\n\n",
		string(b),
		"frame layout",
	)
}

func TestEncodeRawFrame(t *testing.T) {
	b := EncodeRawFrame(TypeMessage, []byte(`{"id":"1","text":"hi"}`))
	testutil.Assert(t,
		"event: message\ndata: {\"id\":\"1\",\"text\":\"hi\"}\n\n",
		string(b),
		"raw payload passes through untouched",
	)
}

func TestParseType(t *testing.T) {
	for _, typ := range All() {
		got, ok := ParseType(string(typ))
		testutil.Assert(t, true, ok, "known kind parses")
		testutil.Assert(t, typ, got, "kind round-trips")
	}

	_, ok := ParseType("mystery_kind")
	testutil.Assert(t, false, ok, "unknown kind rejected")

	_, ok = ParseType("")
	testutil.Assert(t, false, ok, "empty kind rejected")
}

func TestTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := Timestamp(time.Date(2026, 1, 2, 17, 4, 5, 0, loc))
	testutil.Assert(t, "2026-01-02T15:04:05Z", ts, "timestamps normalize to UTC")
}
