package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	errChannelClosed = errors.New("testutil: data channel not open")
	connRe           = regexp.MustCompile(`conn=(\d+)`)
	feedRe           = regexp.MustCompile(`feed=(\d+)`)
)

// MediaNet connects fake peer connections the way the gateway relays media:
// data sent on a publisher's channel reaches every subscriber of that feed.
type MediaNet struct {
	ProbeErr error
	// DuplicateTracks makes subscriptions announce the video track twice.
	DuplicateTracks bool

	mu    sync.Mutex
	next  int
	conns map[int]*FakeConnection
	pubs  map[domain.FeedID]*FakeConnection
	subs  map[domain.FeedID][]*FakeConnection
}

func NewMediaNet() *MediaNet {
	return &MediaNet{
		conns: make(map[int]*FakeConnection),
		pubs:  make(map[domain.FeedID]*FakeConnection),
		subs:  make(map[domain.FeedID][]*FakeConnection),
	}
}

func (n *MediaNet) Probe() error { return n.ProbeErr }

func (n *MediaNet) NewConnection(label string) (core.MediaConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	c := &FakeConnection{net: n, num: n.next, label: label}
	n.conns[c.num] = c
	return c, nil
}

// Publisher returns the connection publishing a feed.
func (n *MediaNet) Publisher(feed domain.FeedID) *FakeConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pubs[feed]
}

// Connections returns every connection created with the label.
func (n *MediaNet) Connections(label string) []*FakeConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*FakeConnection
	for i := 1; i <= n.next; i++ {
		if c, ok := n.conns[i]; ok && c.label == label {
			out = append(out, c)
		}
	}
	return out
}

func (n *MediaNet) bindPublisher(offer string, feed domain.FeedID) {
	m := connRe.FindStringSubmatch(offer)
	if m == nil {
		return
	}
	num, _ := strconv.Atoi(m[1])
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[num]; ok {
		c.mu.Lock()
		c.feed = feed
		c.mu.Unlock()
		n.pubs[feed] = c
	}
}

func (n *MediaNet) bindSubscriber(c *FakeConnection, feed domain.FeedID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[feed] = append(n.subs[feed], c)
}

func (n *MediaNet) relay(feed domain.FeedID, text string) {
	n.mu.Lock()
	subs := append([]*FakeConnection(nil), n.subs[feed]...)
	n.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		dc := s.remoteDC
		closed := s.closed
		s.mu.Unlock()
		if dc != nil && !closed {
			dc.deliver(text)
		}
	}
}

// FakeConnection implements core.MediaConnection.
type FakeConnection struct {
	net   *MediaNet
	num   int
	label string

	mu         sync.Mutex
	closed     bool
	feed       domain.FeedID
	local      []webrtc.TrackLocal
	replaced   map[webrtc.RTPCodecType]webrtc.TrackLocal
	channels   []*FakeDataChannel
	remoteDC   *FakeDataChannel
	remote     []*FakeRemoteTrack
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICEConnectionState)
	onTrack    func(context.Context, core.RemoteTrack)
	onDC       func(core.DataChannel)
	ctx        context.Context
	cancel     context.CancelFunc
}

func (c *FakeConnection) Label() string { return c.label }

func (c *FakeConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	return nil
}

func (c *FakeConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	remote := c.remote
	c.mu.Unlock()
	for _, t := range remote {
		t.Close()
	}
}

func (c *FakeConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	c.candidates = append(c.candidates, ci)
	c.mu.Unlock()
	return nil
}

func (c *FakeConnection) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *FakeConnection) OnTrack(fn func(context.Context, core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *FakeConnection) OnDataChannel(fn func(core.DataChannel)) {
	c.mu.Lock()
	c.onDC = fn
	c.mu.Unlock()
}

func (c *FakeConnection) AddLocalTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	c.local = append(c.local, t)
	c.mu.Unlock()
	return nil
}

func (c *FakeConnection) ReplaceLocalTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaced == nil {
		c.replaced = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	}
	c.replaced[kind] = t
	return nil
}

func (c *FakeConnection) CreateDataChannel(label string) (core.DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dc := &FakeDataChannel{label: label, conn: c}
	c.channels = append(c.channels, dc)
	return dc, nil
}

func (c *FakeConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("fake-offer conn=%d", c.num)}, nil
}

// ApplyAnswer completes a publisher negotiation: ICE connects and local channels open.
func (c *FakeConnection) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("testutil: connection closed")
	}
	channels := append([]*FakeDataChannel(nil), c.channels...)
	onICE := c.onICE
	c.mu.Unlock()

	go func() {
		if onICE != nil {
			onICE(webrtc.ICEConnectionStateConnected)
		}
		for _, dc := range channels {
			dc.open()
		}
	}()
	return nil
}

// ApplyOfferAndCreateAnswer completes a subscription: tracks and the relayed
// data channel are announced asynchronously.
func (c *FakeConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	m := feedRe.FindStringSubmatch(offer.SDP)
	if m == nil {
		return nil, errors.New("testutil: offer without feed")
	}
	id, _ := strconv.ParseUint(m[1], 10, 64)
	feed := domain.FeedID(id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("testutil: connection closed")
	}
	c.feed = feed
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	dc := &FakeDataChannel{label: "JanusDataChannel", conn: c}
	c.remoteDC = dc
	audio := NewRemoteTrack("audio-"+m[1], webrtc.RTPCodecTypeAudio)
	video := NewRemoteTrack("video-"+m[1], webrtc.RTPCodecTypeVideo)
	tracks := []*FakeRemoteTrack{audio, video}
	if c.net.DuplicateTracks {
		tracks = append(tracks, NewRemoteTrack("video-dup-"+m[1], webrtc.RTPCodecTypeVideo))
	}
	c.remote = append(c.remote, tracks...)
	onICE, onTrack, onDC := c.onICE, c.onTrack, c.onDC
	c.mu.Unlock()

	c.net.bindSubscriber(c, feed)

	go func() {
		if onICE != nil {
			onICE(webrtc.ICEConnectionStateConnected)
		}
		if onTrack != nil {
			for _, t := range tracks {
				onTrack(ctx, t)
			}
		}
		if onDC != nil {
			onDC(dc)
		}
		dc.open()
	}()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("fake-answer conn=%d", c.num)}, nil
}

// AnnounceTrack fires the track callback the way a notification already in
// flight would, even after the connection was closed.
func (c *FakeConnection) AnnounceTrack(t *FakeRemoteTrack) {
	c.mu.Lock()
	fn, ctx := c.onTrack, c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if fn != nil {
		fn(ctx, t)
	}
}

// RemoteTracks returns the tracks announced to a subscription.
func (c *FakeConnection) RemoteTracks() []*FakeRemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeRemoteTrack(nil), c.remote...)
}

// SetICEState simulates an ICE transition.
func (c *FakeConnection) SetICEState(s webrtc.ICEConnectionState) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *FakeConnection) Feed() domain.FeedID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

func (c *FakeConnection) LocalTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.local...)
}

func (c *FakeConnection) Replaced(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced[kind]
}

// RemoteChannel returns the data channel announced by the remote side.
func (c *FakeConnection) RemoteChannel() *FakeDataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDC
}

// Channel returns the first locally created data channel.
func (c *FakeConnection) Channel() *FakeDataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[0]
}

// FakeDataChannel implements core.DataChannel.
type FakeDataChannel struct {
	label string
	conn  *FakeConnection
	state atomic.Int32

	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	sent      []string
}

// NewDataChannel returns a detached channel in the given state, for unit tests.
func NewDataChannel(label string, state webrtc.DataChannelState) *FakeDataChannel {
	dc := &FakeDataChannel{label: label}
	dc.state.Store(int32(state))
	return dc
}

func (d *FakeDataChannel) Label() string { return d.label }

func (d *FakeDataChannel) ReadyState() webrtc.DataChannelState {
	s := webrtc.DataChannelState(d.state.Load())
	if s == webrtc.DataChannelStateUnknown {
		return webrtc.DataChannelStateConnecting
	}
	return s
}

func (d *FakeDataChannel) SendText(s string) error {
	if d.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelClosed
	}
	d.mu.Lock()
	d.sent = append(d.sent, s)
	d.mu.Unlock()
	if d.conn != nil {
		if feed := d.conn.Feed(); feed != 0 {
			d.conn.net.relay(feed, s)
		}
	}
	return nil
}

// OnOpen fires immediately when the channel is already open.
func (d *FakeDataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
	if d.ReadyState() == webrtc.DataChannelStateOpen && fn != nil {
		go fn()
	}
}

func (d *FakeDataChannel) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

func (d *FakeDataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *FakeDataChannel) Close() error {
	if webrtc.DataChannelState(d.state.Swap(int32(webrtc.DataChannelStateClosed))) == webrtc.DataChannelStateClosed {
		return nil
	}
	d.mu.Lock()
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (d *FakeDataChannel) open() {
	d.state.Store(int32(webrtc.DataChannelStateOpen))
	d.mu.Lock()
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Open marks the channel open and fires the open callback.
func (d *FakeDataChannel) Open() { d.open() }

// Deliver feeds an inbound text message.
func (d *FakeDataChannel) Deliver(text string) { d.deliver(text) }

func (d *FakeDataChannel) deliver(text string) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(webrtc.DataChannelMessage{IsString: true, Data: []byte(text)})
	}
}

// Sent returns every message sent on the channel.
func (d *FakeDataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// FakeRemoteTrack implements core.RemoteTrack; packets are pushed with Push.
type FakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
	pkts chan *rtp.Packet
	once sync.Once
}

func NewRemoteTrack(id string, kind webrtc.RTPCodecType) *FakeRemoteTrack {
	return &FakeRemoteTrack{id: id, kind: kind, pkts: make(chan *rtp.Packet, 64)}
}

func (t *FakeRemoteTrack) ID() string                { return t.id }
func (t *FakeRemoteTrack) StreamID() string          { return "stream-" + t.id }
func (t *FakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *FakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

func (t *FakeRemoteTrack) Push(p *rtp.Packet) { t.pkts <- p }

func (t *FakeRemoteTrack) Close() {
	t.once.Do(func() { close(t.pkts) })
}
