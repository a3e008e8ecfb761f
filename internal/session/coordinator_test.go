package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outbound struct {
	to      string // unicast target or excluded sender
	event   string
	payload interface{}
}

// fakeTransport records every emission; Call is delegated to callFn.
type fakeTransport struct {
	mu         sync.Mutex
	unicasts   []outbound
	broadcasts []outbound
	excepts    []outbound
	callFn     func(connID, event string) (json.RawMessage, error)
	callCount  int
}

func (f *fakeTransport) SendTo(connID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicasts = append(f.unicasts, outbound{to: connID, event: event, payload: payload})
}

func (f *fakeTransport) Broadcast(event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, outbound{event: event, payload: payload})
}

func (f *fakeTransport) BroadcastExcept(connID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excepts = append(f.excepts, outbound{to: connID, event: event, payload: payload})
}

func (f *fakeTransport) Call(ctx context.Context, connID, event string, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.callCount++
	fn := f.callFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no call handler")
	}
	return fn(connID, event)
}

func (f *fakeTransport) unicastsTo(connID, event string) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbound
	for _, u := range f.unicasts {
		if u.to == connID && u.event == event {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeTransport) broadcastsOf(event string) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbound
	for _, b := range f.broadcasts {
		if b.event == event {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeTransport) exceptsOf(event string) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbound
	for _, b := range f.excepts {
		if b.event == event {
			out = append(out, b)
		}
	}
	return out
}

func newTestCoordinator(opts Options) (*Coordinator, *fakeTransport) {
	transport := &fakeTransport{}
	return NewCoordinator(transport, zap.NewNop(), opts), transport
}

func TestFirstJoinerBecomesHost(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "/cache/a.png")

	snap := coord.Snapshot()
	assert.Equal(t, "conn-a", snap.HostID)
	assert.True(t, snap.Participants["conn-a"].IsHost)

	require.Len(t, transport.unicastsTo("conn-a", EventSetHost), 1)

	rosters := transport.broadcastsOf(EventUpdateUsers)
	require.Len(t, rosters, 1)
	roster := rosters[0].payload.(Roster)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "Alice", roster.Users["conn-a"].Name)
	assert.True(t, roster.Users["conn-a"].IsHost)
}

func TestSecondJoinerGetsSnapshotNotHost(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")

	snap := coord.Snapshot()
	assert.Equal(t, "conn-a", snap.HostID)
	assert.False(t, snap.Participants["conn-b"].IsHost)

	assert.Empty(t, transport.unicastsTo("conn-b", EventSetHost))

	states := transport.unicastsTo("conn-b", EventSyncState)
	require.Len(t, states, 1)
	state := states[0].payload.(PlaybackState)
	assert.Nil(t, state.Video)
	assert.Zero(t, state.Time)
	assert.True(t, state.Paused)

	rosters := transport.broadcastsOf(EventUpdateUsers)
	require.Len(t, rosters, 2)
	assert.Len(t, rosters[1].payload.(Roster).Users, 2)
}

func TestHostEmptyInvariant(t *testing.T) {
	coord, _ := newTestCoordinator(Options{})

	check := func() {
		snap := coord.Snapshot()
		assert.Equal(t, len(snap.Participants) == 0, snap.HostID == "",
			"hostID must be empty iff there are no participants")
	}

	check()
	coord.Join("conn-a", "Alice", "")
	check()
	coord.Join("conn-b", "Bob", "")
	check()
	coord.Leave("conn-a")
	check()
	coord.Leave("conn-b")
	check()
	coord.Leave("conn-b") // idempotent
	check()
}

func TestHostDepartureElectsOldestRemaining(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.Join("conn-c", "Carol", "")

	coord.Leave("conn-a")
	snap := coord.Snapshot()
	assert.Equal(t, "conn-b", snap.HostID)
	assert.True(t, snap.Participants["conn-b"].IsHost)
	require.Len(t, transport.unicastsTo("conn-b", EventSetHost), 1)

	coord.Leave("conn-b")
	assert.Equal(t, "conn-c", coord.Snapshot().HostID)
	require.Len(t, transport.unicastsTo("conn-c", EventSetHost), 1)
}

func TestRosterBroadcastKeepsJoinOrder(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	// Ids chosen so lexicographic order differs from join order.
	coord.Join("conn-c", "Carol", "")
	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")

	rosters := transport.broadcastsOf(EventUpdateUsers)
	require.Len(t, rosters, 3)
	raw, err := json.Marshal(rosters[2].payload)
	require.NoError(t, err)

	idx := func(id string) int { return strings.Index(string(raw), `"`+id+`"`) }
	assert.Less(t, idx("conn-c"), idx("conn-a"))
	assert.Less(t, idx("conn-a"), idx("conn-b"))

	// Still a plain object for clients that index by connection id.
	var decoded map[string]Participant
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "Carol", decoded["conn-c"].Name)
}

func TestLeaveUnknownConnectionStillBroadcastsRoster(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.Leave("conn-ghost")

	assert.Equal(t, "conn-a", coord.Snapshot().HostID)
	assert.Len(t, transport.broadcastsOf(EventUpdateUsers), 2)
}

func TestChatRelaysToEveryone(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "/cache/a.png")
	coord.ChatMessage("conn-a", "hello <b>world</b>")

	msgs := transport.broadcastsOf(EventNewMessage)
	require.Len(t, msgs, 1)
	msg := msgs[0].payload.(Message)
	assert.Equal(t, "Alice", msg.Sender)
	assert.Equal(t, "/cache/a.png", msg.Pfp)
	assert.Equal(t, "hello <b>world</b>", msg.Text) // passed through verbatim
}

func TestChatFromUnknownConnectionUsesGuestIdentity(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.ChatMessage("conn-late", "still here?")

	msgs := transport.broadcastsOf(EventNewMessage)
	require.Len(t, msgs, 1)
	msg := msgs[0].payload.(Message)
	assert.Equal(t, "Guest", msg.Sender)
	assert.Empty(t, msg.Pfp)
}

func TestSetVideoResetsPlaybackAndAnnounces(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	seek := 120.0
	coord.HostSync("conn-a", mustJSON(t, SyncCommand{Type: SyncPlay, Time: &seek}))

	coord.SetVideo("conn-a", "shows/pilot.mkv")

	snap := coord.Snapshot()
	assert.Equal(t, "shows/pilot.mkv", snap.Video)
	assert.Zero(t, snap.Time)
	assert.True(t, snap.Paused)

	events := transport.broadcastsOf(EventSyncEvent)
	require.Len(t, events, 1)
	cmd := events[0].payload.(SyncCommand)
	assert.Equal(t, SyncSetVideo, cmd.Type)
	assert.Equal(t, "shows/pilot.mkv", cmd.Video)

	msgs := transport.broadcastsOf(EventNewMessage)
	require.Len(t, msgs, 1)
	msg := msgs[0].payload.(Message)
	assert.Equal(t, "System", msg.Sender)
	assert.Contains(t, msg.Text, "shows/.previews/pilot_banner.jpg")
}

func TestSetVideoFromGuestAllowedWhenOpen(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.SetVideo("conn-b", "movie.mp4")

	assert.Equal(t, "movie.mp4", coord.Snapshot().Video)
	assert.Len(t, transport.broadcastsOf(EventSyncEvent), 1)
}

func TestSetVideoFromGuestRejectedWhenRestricted(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: false})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.SetVideo("conn-b", "movie.mp4")

	assert.Empty(t, coord.Snapshot().Video)
	assert.Empty(t, transport.broadcastsOf(EventSyncEvent))
}

func TestHostSyncFromNonHostIgnored(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.HostSync("conn-b", mustJSON(t, SyncCommand{Type: SyncPlay}))

	snap := coord.Snapshot()
	assert.True(t, snap.Paused)
	assert.Empty(t, transport.exceptsOf(EventSyncEvent))
}

func TestHostSyncPlayBroadcastsExceptSender(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.HostSync("conn-a", []byte(`{"type":"play"}`))

	assert.False(t, coord.Snapshot().Paused)

	events := transport.exceptsOf(EventSyncEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "conn-a", events[0].to)
	assert.Equal(t, SyncPlay, events[0].payload.(SyncCommand).Type)
}

func TestHostSyncSeekUpdatesTimeOnly(t *testing.T) {
	coord, _ := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.HostSync("conn-a", []byte(`{"type":"seek","time":42.5}`))

	snap := coord.Snapshot()
	assert.Equal(t, 42.5, snap.Time)
	assert.True(t, snap.Paused)
}

func TestHostSyncPauseWithTime(t *testing.T) {
	coord, _ := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.HostSync("conn-a", []byte(`{"type":"play","time":10}`))
	coord.HostSync("conn-a", []byte(`{"type":"pause","time":17.25}`))

	snap := coord.Snapshot()
	assert.True(t, snap.Paused)
	assert.Equal(t, 17.25, snap.Time)
}

func TestHostSyncUnknownTypeIgnored(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.Join("conn-a", "Alice", "")
	coord.HostSync("conn-a", []byte(`{"type":"rewind","time":3}`))

	assert.Zero(t, coord.Snapshot().Time)
	assert.Empty(t, transport.exceptsOf(EventSyncEvent))
}

func TestRequestSyncWithoutVideoIsNoop(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.RequestSync("conn-b")

	assert.Zero(t, transport.callCount)
	assert.Empty(t, transport.unicastsTo("conn-b", EventForceSync))
}

func TestRequestSyncWithoutHostIsNoop(t *testing.T) {
	coord, transport := newTestCoordinator(Options{})

	coord.RequestSync("conn-b")

	assert.Zero(t, transport.callCount)
}

func TestRequestSyncUpdatesStateAndRepliesToRequesterOnly(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.SetVideo("conn-a", "movie.mp4")

	transport.callFn = func(connID, event string) (json.RawMessage, error) {
		assert.Equal(t, "conn-a", connID)
		assert.Equal(t, EventGetHostTime, event)
		return []byte(`{"time":77.5,"paused":false}`), nil
	}
	coord.RequestSync("conn-b")

	snap := coord.Snapshot()
	assert.Equal(t, 77.5, snap.Time)
	assert.False(t, snap.Paused)

	replies := transport.unicastsTo("conn-b", EventForceSync)
	require.Len(t, replies, 1)
	state := replies[0].payload.(HostState)
	assert.Equal(t, 77.5, state.Time)
	assert.False(t, state.Paused)
	assert.Empty(t, transport.unicastsTo("conn-a", EventForceSync))
}

func TestRequestSyncFailureLeavesStateUnchanged(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.SetVideo("conn-a", "movie.mp4")
	before := coord.Snapshot()

	transport.callFn = func(connID, event string) (json.RawMessage, error) {
		return nil, errors.New("call timed out")
	}
	coord.RequestSync("conn-b")

	after := coord.Snapshot()
	assert.Equal(t, before.Time, after.Time)
	assert.Equal(t, before.Paused, after.Paused)
	assert.Empty(t, transport.unicastsTo("conn-b", EventForceSync))
}

func TestRequestSyncMalformedReplyLeavesStateUnchanged(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.SetVideo("conn-a", "movie.mp4")

	transport.callFn = func(connID, event string) (json.RawMessage, error) {
		return []byte(`{"time":"soon"}`), nil
	}
	coord.RequestSync("conn-a")

	assert.Zero(t, coord.Snapshot().Time)
	assert.Empty(t, transport.unicastsTo("conn-a", EventForceSync))
}

func TestRequestSyncDiscardsStaleWriteBack(t *testing.T) {
	coord, transport := newTestCoordinator(Options{OpenVideoSelect: true})

	coord.Join("conn-a", "Alice", "")
	coord.Join("conn-b", "Bob", "")
	coord.SetVideo("conn-a", "movie.mp4")

	started := make(chan struct{})
	release := make(chan struct{})
	transport.callFn = func(connID, event string) (json.RawMessage, error) {
		close(started)
		<-release
		return []byte(`{"time":5,"paused":false}`), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.RequestSync("conn-b")
	}()

	<-started
	// A mutation lands while the reconciliation call is in flight.
	coord.HostSync("conn-a", []byte(`{"type":"seek","time":99}`))
	close(release)
	<-done

	// The stale reply must not overwrite the newer seek...
	snap := coord.Snapshot()
	assert.Equal(t, 99.0, snap.Time)
	// ...but the requester still gets the host's answer.
	replies := transport.unicastsTo("conn-b", EventForceSync)
	require.Len(t, replies, 1)
	assert.Equal(t, 5.0, replies[0].payload.(HostState).Time)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
