// Package testutil provides in-memory stand-ins for the gateway and the peer transport.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrDialRefused = errors.New("testutil: dial refused")

const videoroom = "janus.plugin.videoroom"

// Janus emulates a gateway running the videoroom plugin, speaking JSON frames
// over in-memory connections.
type Janus struct {
	Media *MediaNet

	mu        sync.Mutex
	nextID    uint64
	sessions  map[uint64]*fakeSession
	handles   map[uint64]*fakeHandle
	rooms     map[domain.RoomID]*fakeRoom
	conns     []*Conn
	dials     int
	failDials int
	creates   int
	hangups   int
	stale     bool
	holdJoins bool
	held      []func()
	requests  map[string][]map[string]any
}

type fakeSession struct {
	id      uint64
	conn    *Conn
	handles map[uint64]*fakeHandle
}

type fakeHandle struct {
	id         uint64
	session    *fakeSession
	role       string
	room       domain.RoomID
	feed       domain.FeedID
	display    string
	publishing bool
	detached   bool
}

type fakeRoom struct {
	id          domain.RoomID
	description string
	publishers  map[domain.FeedID]*fakeHandle
}

func NewJanus(media *MediaNet) *Janus {
	return &Janus{
		Media:    media,
		nextID:   1000,
		sessions: make(map[uint64]*fakeSession),
		handles:  make(map[uint64]*fakeHandle),
		rooms:    make(map[domain.RoomID]*fakeRoom),
		requests: make(map[string][]map[string]any),
	}
}

// Dial implements core.SignalDialer.
func (j *Janus) Dial(ctx context.Context) (core.SignalConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dials++
	if j.failDials != 0 {
		if j.failDials > 0 {
			j.failDials--
		}
		return nil, ErrDialRefused
	}
	c := &Conn{j: j, out: make(chan core.Frame, 4096)}
	j.conns = append(j.conns, c)
	return c, nil
}

// FailDials makes the next n dials fail; a negative n fails all of them.
func (j *Janus) FailDials(n int) {
	j.mu.Lock()
	j.failDials = n
	j.mu.Unlock()
}

func (j *Janus) Dials() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dials
}

// Creates counts "create" session requests.
func (j *Janus) Creates() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.creates
}

// Hangups counts gateway-level hangup requests.
func (j *Janus) Hangups() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hangups
}

// Requests returns recorded plugin request bodies of the given kind.
func (j *Janus) Requests(kind string) []map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]map[string]any(nil), j.requests[kind]...)
}

// DropConnections closes every live transport from the gateway side.
func (j *Janus) DropConnections() {
	j.mu.Lock()
	conns := j.conns
	j.conns = nil
	j.mu.Unlock()
	for _, c := range conns {
		c.drop()
	}
}

// ForgetSessions drops all sessions so later claims fail with "no such session".
func (j *Janus) ForgetSessions() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, s := range j.sessions {
		for _, h := range s.handles {
			j.removeHandleLocked(h)
		}
	}
	j.sessions = make(map[uint64]*fakeSession)
}

// StaleExists makes "exists" answer false, as when another client creates
// the room between the probe and the create.
func (j *Janus) StaleExists(v bool) {
	j.mu.Lock()
	j.stale = v
	j.mu.Unlock()
}

// HoldJoins keeps publisher "joined" events back until ReleaseJoins, as a
// slow gateway would. The join itself takes effect right away.
func (j *Janus) HoldJoins() {
	j.mu.Lock()
	j.holdJoins = true
	j.mu.Unlock()
}

// ReleaseJoins delivers the held "joined" events and stops holding.
func (j *Janus) ReleaseJoins() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.holdJoins = false
	for _, fn := range j.held {
		fn()
	}
	j.held = nil
}

// CreateRoom registers a room as if another client had created it.
func (j *Janus) CreateRoom(id domain.RoomID, description string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rooms[id] = &fakeRoom{id: id, description: description, publishers: make(map[domain.FeedID]*fakeHandle)}
}

func (j *Janus) HasRoom(id domain.RoomID) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.rooms[id]
	return ok
}

// Publishers lists the feeds currently publishing in a room.
func (j *Janus) Publishers(id domain.RoomID) []domain.FeedID {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.rooms[id]
	if !ok {
		return nil
	}
	out := make([]domain.FeedID, 0, len(r.publishers))
	for fid, h := range r.publishers {
		if h.publishing {
			out = append(out, fid)
		}
	}
	return out
}

// Subscriptions counts live subscriber handles of one session to a feed.
func (j *Janus) Subscriptions(session uint64, feed domain.FeedID) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.sessions[session]
	if !ok {
		return 0
	}
	n := 0
	for _, h := range s.handles {
		if h.role == "subscriber" && h.feed == feed && !h.detached {
			n++
		}
	}
	return n
}

// LiveHandles counts attached handles of a session.
func (j *Janus) LiveHandles(session uint64) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.sessions[session]
	if !ok {
		return 0
	}
	return len(s.handles)
}

func (j *Janus) HasSession(id uint64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.sessions[id]
	return ok
}

type inbound struct {
	Janus       string         `json:"janus"`
	Transaction string         `json:"transaction"`
	SessionID   uint64         `json:"session_id"`
	HandleID    uint64         `json:"handle_id"`
	Plugin      string         `json:"plugin"`
	Body        map[string]any `json:"body"`
	JSEP        *sdp           `json:"jsep"`
}

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (j *Janus) receive(c *Conn, f core.Frame) {
	var in inbound
	dec := json.NewDecoder(bytes.NewReader(f))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	reply := func(v map[string]any) {
		v["transaction"] = in.Transaction
		c.deliver(v)
	}
	fail := func(code int, reason string) {
		reply(map[string]any{"janus": "error", "error": map[string]any{"code": code, "reason": reason}})
	}

	if in.Janus == "create" {
		j.creates++
		s := &fakeSession{id: j.newID(), conn: c, handles: make(map[uint64]*fakeHandle)}
		j.sessions[s.id] = s
		reply(map[string]any{"janus": "success", "data": map[string]any{"id": s.id}})
		return
	}

	s, ok := j.sessions[in.SessionID]
	if !ok {
		fail(458, "No such session "+strconv.FormatUint(in.SessionID, 10))
		return
	}

	switch in.Janus {
	case "claim":
		s.conn = c
		reply(map[string]any{"janus": "success", "session_id": s.id})
	case "keepalive":
		reply(map[string]any{"janus": "ack", "session_id": s.id})
	case "attach":
		if in.Plugin != videoroom {
			fail(460, "No such plugin")
			return
		}
		h := &fakeHandle{id: j.newID(), session: s}
		s.handles[h.id] = h
		j.handles[h.id] = h
		reply(map[string]any{"janus": "success", "session_id": s.id, "data": map[string]any{"id": h.id}})
	case "destroy":
		for _, h := range s.handles {
			j.removeHandleLocked(h)
		}
		delete(j.sessions, s.id)
		reply(map[string]any{"janus": "success", "session_id": s.id})
	default:
		h, ok := s.handles[in.HandleID]
		if !ok {
			fail(459, "No such handle")
			return
		}
		switch in.Janus {
		case "detach":
			j.removeHandleLocked(h)
			reply(map[string]any{"janus": "success", "session_id": s.id})
			s.conn.deliver(map[string]any{"janus": "detached", "session_id": s.id, "sender": h.id})
		case "hangup":
			j.hangups++
			j.unpublishLocked(h)
			reply(map[string]any{"janus": "success", "session_id": s.id})
			s.conn.deliver(map[string]any{"janus": "hangup", "session_id": s.id, "sender": h.id, "reason": "Close PC"})
		case "trickle":
			reply(map[string]any{"janus": "ack", "session_id": s.id})
		case "message":
			j.messageLocked(s, h, &in, reply)
		default:
			fail(453, "Unknown request")
		}
	}
}

func (j *Janus) messageLocked(s *fakeSession, h *fakeHandle, in *inbound, reply func(map[string]any)) {
	req, _ := in.Body["request"].(string)
	j.requests[req] = append(j.requests[req], in.Body)
	room := domain.RoomID(asUint(in.Body["room"]))

	success := func(data map[string]any) {
		reply(map[string]any{
			"janus":      "success",
			"session_id": s.id,
			"sender":     h.id,
			"plugindata": map[string]any{"plugin": videoroom, "data": data},
		})
	}
	ack := func() { reply(map[string]any{"janus": "ack", "session_id": s.id}) }
	event := func(data map[string]any, jsep *sdp) {
		env := map[string]any{
			"janus":       "event",
			"session_id":  s.id,
			"sender":      h.id,
			"transaction": in.Transaction,
			"plugindata":  map[string]any{"plugin": videoroom, "data": data},
		}
		if jsep != nil {
			env["jsep"] = jsep
		}
		s.conn.deliver(env)
	}
	eventError := func(code int, msg string) {
		event(map[string]any{"videoroom": "event", "error_code": code, "error": msg}, nil)
	}

	switch req {
	case "exists":
		_, ok := j.rooms[room]
		ok = ok && !j.stale
		success(map[string]any{"videoroom": "success", "room": uint32(room), "exists": ok})
	case "create":
		if _, ok := j.rooms[room]; ok {
			success(map[string]any{"videoroom": "event", "error_code": 427, "error": fmt.Sprintf("Room %d already exists", room)})
			return
		}
		desc, _ := in.Body["description"].(string)
		j.rooms[room] = &fakeRoom{id: room, description: desc, publishers: make(map[domain.FeedID]*fakeHandle)}
		success(map[string]any{"videoroom": "created", "room": uint32(room), "permanent": false})
	case "list":
		list := make([]map[string]any, 0, len(j.rooms))
		for _, r := range j.rooms {
			list = append(list, map[string]any{"room": uint32(r.id), "description": r.description, "num_participants": len(r.publishers), "max_publishers": 30})
		}
		success(map[string]any{"videoroom": "success", "list": list})
	case "listparticipants":
		r, ok := j.rooms[room]
		if !ok {
			success(map[string]any{"videoroom": "event", "error_code": 426, "error": "No such room"})
			return
		}
		parts := make([]map[string]any, 0, len(r.publishers))
		for fid, p := range r.publishers {
			parts = append(parts, map[string]any{"id": uint64(fid), "display": p.display, "publisher": p.publishing})
		}
		success(map[string]any{"videoroom": "participants", "room": uint32(room), "participants": parts})
	case "join":
		ack()
		r, ok := j.rooms[room]
		if !ok {
			eventError(426, fmt.Sprintf("No such room (%d)", room))
			return
		}
		if h.role != "" {
			eventError(425, "Already in as a publisher on this handle")
			return
		}
		if in.Body["ptype"] == "subscriber" {
			feed := domain.FeedID(asUint(in.Body["feed"]))
			pub, ok := r.publishers[feed]
			if !ok || !pub.publishing {
				eventError(428, fmt.Sprintf("No such feed (%d)", feed))
				return
			}
			h.role, h.room, h.feed = "subscriber", room, feed
			event(map[string]any{"videoroom": "attached", "room": uint32(room), "id": uint64(feed), "display": pub.display},
				&sdp{Type: "offer", SDP: fmt.Sprintf("fake-offer feed=%d", feed)})
			return
		}
		id := domain.FeedID(asUint(in.Body["id"]))
		if id == 0 {
			id = domain.NewFeedID()
		}
		if _, taken := r.publishers[id]; taken {
			eventError(436, fmt.Sprintf("User ID %d already exists", id))
			return
		}
		display, _ := in.Body["display"].(string)
		h.role, h.room, h.feed, h.display = "publisher", room, id, display
		others := j.publisherListLocked(r, id)
		r.publishers[id] = h
		joined := func() {
			event(map[string]any{
				"videoroom":   "joined",
				"room":        uint32(room),
				"description": r.description,
				"id":          uint64(id),
				"private_id":  j.newID(),
				"publishers":  others,
				"attendees":   []any{},
			}, nil)
			j.broadcastLocked(r, id, map[string]any{"videoroom": "event", "room": uint32(room), "joining": map[string]any{"id": uint64(id), "display": display}})
		}
		if j.holdJoins {
			j.held = append(j.held, joined)
			return
		}
		joined()
	case "configure", "publish":
		ack()
		if h.role != "publisher" {
			eventError(424, "Invalid element")
			return
		}
		if req == "publish" && h.publishing {
			eventError(434, "Can't publish, already published")
			return
		}
		var answer *sdp
		if in.JSEP != nil {
			if j.Media != nil {
				j.Media.bindPublisher(in.JSEP.SDP, h.feed)
			}
			answer = &sdp{Type: "answer", SDP: fmt.Sprintf("fake-answer feed=%d", h.feed)}
		}
		first := !h.publishing
		h.publishing = true
		event(map[string]any{"videoroom": "event", "room": uint32(h.room), "configured": "ok"}, answer)
		if first {
			s.conn.deliver(map[string]any{"janus": "webrtcup", "session_id": s.id, "sender": h.id})
			j.broadcastLocked(j.rooms[h.room], h.feed, map[string]any{
				"videoroom":  "event",
				"room":       uint32(h.room),
				"publishers": []any{map[string]any{"id": uint64(h.feed), "display": h.display, "audio_codec": "opus", "video_codec": "h264"}},
			})
		}
	case "start":
		ack()
		event(map[string]any{"videoroom": "event", "room": uint32(h.room), "started": "ok"}, nil)
		s.conn.deliver(map[string]any{"janus": "webrtcup", "session_id": s.id, "sender": h.id})
	case "leave":
		ack()
		room := h.room
		j.leaveLocked(h)
		event(map[string]any{"videoroom": "event", "room": uint32(room), "leaving": "ok"}, nil)
	default:
		ack()
		eventError(423, "Unknown request '"+req+"'")
	}
}

func (j *Janus) publisherListLocked(r *fakeRoom, except domain.FeedID) []any {
	out := []any{}
	for fid, p := range r.publishers {
		if fid == except || !p.publishing {
			continue
		}
		out = append(out, map[string]any{"id": uint64(fid), "display": p.display, "audio_codec": "opus", "video_codec": "h264"})
	}
	return out
}

// broadcastLocked sends an event to every publisher handle in the room except one.
func (j *Janus) broadcastLocked(r *fakeRoom, except domain.FeedID, data map[string]any) {
	if r == nil {
		return
	}
	for fid, p := range r.publishers {
		if fid == except {
			continue
		}
		p.session.conn.deliver(map[string]any{
			"janus":      "event",
			"session_id": p.session.id,
			"sender":     p.id,
			"plugindata": map[string]any{"plugin": videoroom, "data": data},
		})
	}
}

func (j *Janus) unpublishLocked(h *fakeHandle) {
	if h.role != "publisher" || !h.publishing {
		return
	}
	h.publishing = false
	if r, ok := j.rooms[h.room]; ok {
		j.broadcastLocked(r, h.feed, map[string]any{"videoroom": "event", "room": uint32(h.room), "unpublished": uint64(h.feed)})
	}
}

func (j *Janus) leaveLocked(h *fakeHandle) {
	if h.role != "publisher" {
		h.role = ""
		return
	}
	r, ok := j.rooms[h.room]
	if ok && r.publishers[h.feed] == h {
		delete(r.publishers, h.feed)
		j.broadcastLocked(r, h.feed, map[string]any{"videoroom": "event", "room": uint32(h.room), "leaving": uint64(h.feed)})
	}
	h.role = ""
}

func (j *Janus) removeHandleLocked(h *fakeHandle) {
	if h.detached {
		return
	}
	j.leaveLocked(h)
	h.detached = true
	delete(h.session.handles, h.id)
	delete(j.handles, h.id)
}

func (j *Janus) newID() uint64 {
	j.nextID++
	return j.nextID
}

func asUint(v any) uint64 {
	switch x := v.(type) {
	case float64:
		return uint64(x)
	case json.Number:
		n, _ := strconv.ParseUint(x.String(), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		return n
	}
	return 0
}

// Conn is the client end of an in-memory gateway transport.
type Conn struct {
	j   *Janus
	out chan core.Frame

	mu     sync.Mutex
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("connection closed")
	}
	c.j.receive(c, f)
	return nil
}

func (c *Conn) Frames() <-chan core.Frame { return c.out }

func (c *Conn) Close() { c.drop() }

func (c *Conn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *Conn) deliver(v map[string]any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- b:
	default:
	}
}
