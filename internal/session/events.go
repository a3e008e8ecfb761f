package session

import (
	"bytes"
	"encoding/json"
)

// Event names exchanged over the realtime transport. Client-to-server events
// are dispatched by the transport layer; server-to-client events are emitted
// by the Coordinator.
const (
	// C -> S
	EventJoinRoom     = "join_room"
	EventSendMessage  = "send_message"
	EventHostSetVideo = "host_set_video"
	EventHostSync     = "host_sync"
	EventRequestSync  = "request_sync"
	EventHostTime     = "host_time"

	// S -> C
	EventSetHost     = "set_host"
	EventUpdateUsers = "update_users"
	EventSyncState   = "sync_state"
	EventSyncEvent   = "sync_event"
	EventNewMessage  = "new_message"
	EventForceSync   = "force_sync"

	// S <-> C reconciliation call to the host connection.
	EventGetHostTime = "get_host_time"
)

// Sync command kinds carried by host_sync and sync_event payloads.
const (
	SyncSetVideo = "set_video"
	SyncPlay     = "play"
	SyncPause    = "pause"
	SyncSeek     = "seek"
)

// Participant is one connected viewer as seen in the roster broadcast.
type Participant struct {
	Name   string `json:"name"`
	Pfp    string `json:"pfp"`
	IsHost bool   `json:"isHost"`
}

// Roster is the full participant mapping broadcast as update_users. It
// marshals as a JSON object whose keys appear in join order, so clients
// render the user list in the order people arrived.
type Roster struct {
	Order []string               `json:"-"`
	Users map[string]Participant `json:"-"`
}

func (r Roster) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range r.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Users[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SyncCommand is the tagged playback-control payload relayed between the host
// and the other participants. Time is optional for play/pause.
type SyncCommand struct {
	Type  string   `json:"type"`
	Time  *float64 `json:"time,omitempty"`
	Video string   `json:"video,omitempty"`
}

// PlaybackState is the snapshot unicast to a newly joined connection.
// Video is null while nothing is selected.
type PlaybackState struct {
	Video  *string `json:"video"`
	Time   float64 `json:"time"`
	Paused bool    `json:"paused"`
}

// HostState is the host's live playback report, used both as the
// get_host_time reply and as the force_sync payload.
type HostState struct {
	Time   float64 `json:"time"`
	Paused bool    `json:"paused"`
}

// Message is a chat relay payload.
type Message struct {
	Sender string `json:"sender"`
	Pfp    string `json:"pfp"`
	Text   string `json:"text"`
}
