package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couchparty/backend/internal/media"
	"github.com/couchparty/backend/pkg/metrics"
)

// DefaultCallTimeout bounds the get_host_time reconciliation call.
const DefaultCallTimeout = 2 * time.Second

// Transport is the outbound side of the event channel the Coordinator emits
// through. Implemented by realtime.Hub.
type Transport interface {
	SendTo(connID, event string, payload interface{})
	Broadcast(event string, payload interface{})
	BroadcastExcept(connID, event string, payload interface{})
	// Call sends event to one connection and waits for its typed reply,
	// failing on timeout or when the connection closes mid-call.
	Call(ctx context.Context, connID, event string, timeout time.Duration) (json.RawMessage, error)
}

// Options tune coordinator behavior.
type Options struct {
	// CallTimeout bounds the host reconciliation call; zero means DefaultCallTimeout.
	CallTimeout time.Duration
	// OpenVideoSelect lets any participant pick the video (the /host panel
	// behavior). When false, host_set_video is host-only like host_sync.
	OpenVideoSelect bool
}

// Coordinator owns the single shared session state and is its only writer.
// Every mutation happens under mu; the version counter lets the suspended
// reconciliation call detect that its write-back went stale.
type Coordinator struct {
	mu           sync.Mutex
	video        string // empty = nothing selected
	paused       bool
	position     float64
	hostID       string
	participants map[string]*Participant
	order        []string // join order, drives host election
	version      uint64

	transport       Transport
	logger          *zap.Logger
	callTimeout     time.Duration
	openVideoSelect bool
}

// NewCoordinator creates the session coordinator for the process-wide session.
func NewCoordinator(transport Transport, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Coordinator{
		paused:          true,
		participants:    make(map[string]*Participant),
		transport:       transport,
		logger:          logger,
		callTimeout:     timeout,
		openVideoSelect: opts.OpenVideoSelect,
	}
}

// Join registers a participant, elects it host if the session was empty,
// broadcasts the roster and unicasts the playback snapshot to the joiner.
func (c *Coordinator) Join(connID, name, pfp string) {
	c.mu.Lock()
	if _, ok := c.participants[connID]; !ok {
		c.order = append(c.order, connID)
	}
	p := &Participant{Name: name, Pfp: pfp}
	c.participants[connID] = p

	becameHost := false
	if c.hostID == "" {
		c.hostID = connID
		p.IsHost = true
		becameHost = true
	}
	c.version++
	roster := c.rosterLocked()
	snap := c.playbackLocked()
	c.mu.Unlock()

	if becameHost {
		c.transport.SendTo(connID, EventSetHost, nil)
	}
	c.transport.Broadcast(EventUpdateUsers, roster)
	c.transport.SendTo(connID, EventSyncState, snap)

	c.logger.Info("participant joined",
		zap.String("conn_id", connID),
		zap.String("name", name),
		zap.Bool("host", becameHost),
	)
}

// Leave removes a participant (idempotent) and, when the host departs,
// promotes the oldest remaining participant. The roster broadcast always runs.
func (c *Coordinator) Leave(connID string) {
	c.mu.Lock()
	if _, ok := c.participants[connID]; ok {
		delete(c.participants, connID)
		for i, id := range c.order {
			if id == connID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}

	newHost := ""
	if connID == c.hostID {
		if len(c.order) > 0 {
			newHost = c.order[0]
			c.hostID = newHost
			c.participants[newHost].IsHost = true
		} else {
			c.hostID = ""
		}
	}
	c.version++
	roster := c.rosterLocked()
	c.mu.Unlock()

	if newHost != "" {
		c.transport.SendTo(newHost, EventSetHost, nil)
		c.logger.Info("host transferred", zap.String("conn_id", newHost))
	}
	c.transport.Broadcast(EventUpdateUsers, roster)
}

// ChatMessage relays a chat line to every connection, sender included.
// Unknown senders (disconnect races) fall back to a guest identity.
func (c *Coordinator) ChatMessage(connID, text string) {
	c.mu.Lock()
	sender, pfp := "Guest", ""
	if p, ok := c.participants[connID]; ok {
		if p.Name != "" {
			sender = p.Name
		}
		pfp = p.Pfp
	}
	c.mu.Unlock()

	metrics.ChatMessagesTotal.Inc()
	c.transport.Broadcast(EventNewMessage, Message{Sender: sender, Pfp: pfp, Text: text})
}

// SetVideo selects a new video, resetting position and pausing. The selection
// is broadcast to everyone, host included, followed by a system chat message
// pointing at the derived preview banner.
func (c *Coordinator) SetVideo(connID, video string) {
	c.mu.Lock()
	if !c.openVideoSelect && connID != c.hostID {
		c.mu.Unlock()
		return
	}
	c.video = video
	c.position = 0
	c.paused = true
	c.version++
	c.mu.Unlock()

	c.logger.Info("video selected", zap.String("conn_id", connID), zap.String("video", video))
	c.transport.Broadcast(EventSyncEvent, SyncCommand{Type: SyncSetVideo, Video: video})
	c.transport.Broadcast(EventNewMessage, Message{
		Sender: "System",
		Text:   fmt.Sprintf(`<img class="video-banner" src="/video/%s">`, media.PreviewBannerPath(video)),
	})
}

// HostSync applies a playback control from the host and relays it to every
// other connection. Commands from non-hosts are dropped without a reply.
func (c *Coordinator) HostSync(connID string, data json.RawMessage) {
	var cmd SyncCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.logger.Debug("malformed host_sync payload", zap.String("conn_id", connID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if connID != c.hostID {
		c.mu.Unlock()
		return
	}
	switch cmd.Type {
	case SyncPlay:
		c.paused = false
	case SyncPause:
		c.paused = true
	case SyncSeek:
		// position update below
	default:
		c.mu.Unlock()
		c.logger.Debug("unknown host_sync type", zap.String("type", cmd.Type))
		return
	}
	if cmd.Time != nil {
		c.position = *cmd.Time
	}
	c.version++
	c.mu.Unlock()

	c.transport.BroadcastExcept(connID, EventSyncEvent, cmd)
}

// RequestSync asks the host for its live playback state and unicasts the
// answer to the requester. This is the only operation that suspends: the
// session stays unlocked during the call, so the write-back is discarded if
// any other mutation landed while waiting. Failures are logged and absorbed.
func (c *Coordinator) RequestSync(connID string) {
	c.mu.Lock()
	hostID := c.hostID
	if hostID == "" || c.video == "" {
		c.mu.Unlock()
		return
	}
	version := c.version
	c.mu.Unlock()

	data, err := c.transport.Call(context.Background(), hostID, EventGetHostTime, c.callTimeout)
	if err != nil {
		metrics.SyncCallFailures.Inc()
		c.logger.Warn("host time call failed",
			zap.String("host_id", hostID),
			zap.String("requester", connID),
			zap.Error(err),
		)
		return
	}
	var state HostState
	if err := json.Unmarshal(data, &state); err != nil {
		metrics.SyncCallFailures.Inc()
		c.logger.Warn("malformed host time reply", zap.String("host_id", hostID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.version == version {
		c.position = state.Time
		c.paused = state.Paused
	}
	c.mu.Unlock()

	// The reply is still the freshest ground truth for the requester even
	// when the server-side write-back went stale.
	c.transport.SendTo(connID, EventForceSync, state)
}

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Video:        c.video,
		Time:         c.position,
		Paused:       c.paused,
		HostID:       c.hostID,
		Participants: c.rosterLocked().Users,
	}
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	Video        string
	Time         float64
	Paused       bool
	HostID       string
	Participants map[string]Participant
}

func (c *Coordinator) rosterLocked() Roster {
	users := make(map[string]Participant, len(c.participants))
	for id, p := range c.participants {
		users[id] = *p
	}
	return Roster{Order: append([]string(nil), c.order...), Users: users}
}

func (c *Coordinator) playbackLocked() PlaybackState {
	var video *string
	if c.video != "" {
		v := c.video
		video = &v
	}
	return PlaybackState{Video: video, Time: c.position, Paused: c.paused}
}
