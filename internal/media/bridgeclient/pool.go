package bridgeclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/peercall/peercall/internal/media"
)

// Pool errors.
var (
	ErrNoHealthyNodes = errors.New("no healthy media bridge nodes")
	ErrNotJoined      = errors.New("no joined media channel")
	ErrPoolClosed     = errors.New("media bridge pool is closed")
)

// PoolConfig configures the bridge node pool.
type PoolConfig struct {
	Addresses           []string
	ConnectTimeout      time.Duration
	KeepaliveInterval   time.Duration
	KeepaliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
}

// DefaultPoolConfig returns sensible defaults for a single local node.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Addresses:           []string{"localhost:9090"},
		ConnectTimeout:      10 * time.Second,
		KeepaliveInterval:   30 * time.Second,
		KeepaliveTimeout:    10 * time.Second,
		HealthCheckInterval: 15 * time.Second,
		RequestTimeout:      5 * time.Second,
	}
}

// Pool is a media.Engine backed by one or more media-bridge nodes.
// A call occupies exactly one node for its lifetime; Join picks the
// next healthy node round-robin and every later operation targets it.
type Pool struct {
	cfg     PoolConfig
	handler media.EventHandler

	mu       sync.Mutex
	nodes    []*node
	next     int
	active   *node
	channel  string
	localUID uint32
	events   context.CancelFunc
	closed   bool

	healthStop chan struct{}
	wg         sync.WaitGroup
}

// NewPool connects to every configured node and starts health checking.
// At least one node must be reachable.
func NewPool(cfg PoolConfig, handler media.EventHandler) (*Pool, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("no media bridge addresses configured")
	}

	p := &Pool{
		cfg:        cfg,
		handler:    handler,
		healthStop: make(chan struct{}),
	}

	for i, addr := range cfg.Addresses {
		nc := NodeConfig{
			Address:           addr,
			ConnectTimeout:    cfg.ConnectTimeout,
			KeepaliveInterval: cfg.KeepaliveInterval,
			KeepaliveTimeout:  cfg.KeepaliveTimeout,
		}
		n, err := dialNode(fmt.Sprintf("bridge-%d", i), nc)
		if err != nil {
			slog.Warn("[Bridge] Skipping unreachable node", "address", addr, "error", err)
			continue
		}
		p.nodes = append(p.nodes, n)
	}
	if len(p.nodes) == 0 {
		return nil, ErrNoHealthyNodes
	}

	p.wg.Add(1)
	go p.healthLoop()

	slog.Info("[Bridge] Pool ready", "nodes", len(p.nodes))
	return p, nil
}

// pickLocked returns the next healthy node round-robin.
func (p *Pool) pickLocked() (*node, error) {
	for i := 0; i < len(p.nodes); i++ {
		n := p.nodes[p.next%len(p.nodes)]
		p.next++
		if n.healthy.Load() {
			return n, nil
		}
	}
	return nil, ErrNoHealthyNodes
}

// Join binds the call to a bridge node and subscribes to its events.
func (p *Pool) Join(ctx context.Context, channel, credential string, uid uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.active != nil {
		return fmt.Errorf("already joined channel %s", p.channel)
	}

	n, err := p.pickLocked()
	if err != nil {
		return err
	}

	_, err = n.invoke(ctx, methodJoin, map[string]any{
		"channel":    channel,
		"credential": credential,
		"uid":        float64(uid),
	})
	if err != nil {
		n.healthy.Store(false)
		return err
	}

	p.active = n
	p.channel = channel
	p.localUID = uid

	streamCtx, cancel := context.WithCancel(context.Background())
	p.events = cancel
	p.wg.Add(1)
	go p.eventLoop(streamCtx, n, channel, uid)

	slog.Info("[Bridge] Joined channel", "node_id", n.id, "channel", channel, "uid", uid)
	return nil
}

// Leave tears down the channel binding on the active node.
func (p *Pool) Leave(ctx context.Context) error {
	p.mu.Lock()
	n := p.active
	channel := p.channel
	cancel := p.events
	p.active = nil
	p.channel = ""
	p.localUID = 0
	p.events = nil
	p.mu.Unlock()

	if n == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	_, err := n.invoke(ctx, methodLeave, map[string]any{"channel": channel})
	if err != nil {
		slog.Warn("[Bridge] Leave failed", "node_id", n.id, "channel", channel, "error", err)
		return err
	}
	slog.Info("[Bridge] Left channel", "node_id", n.id, "channel", channel)
	return nil
}

// PublishLocal starts sending the local tracks into the channel.
func (p *Pool) PublishLocal(ctx context.Context, audio, video bool) error {
	return p.activeInvoke(ctx, methodPublish, map[string]any{
		"audio": audio,
		"video": video,
	})
}

// MuteLocalAudio toggles the outgoing audio track.
func (p *Pool) MuteLocalAudio(ctx context.Context, muted bool) error {
	return p.activeInvoke(ctx, methodMute, map[string]any{
		"scope": "local",
		"track": "audio",
		"muted": muted,
	})
}

// MuteLocalVideo toggles the outgoing video track.
func (p *Pool) MuteLocalVideo(ctx context.Context, muted bool) error {
	return p.activeInvoke(ctx, methodMute, map[string]any{
		"scope": "local",
		"track": "video",
		"muted": muted,
	})
}

// MutePeerAudio toggles playback of the remote peer's audio.
func (p *Pool) MutePeerAudio(ctx context.Context, uid uint32, muted bool) error {
	return p.activeInvoke(ctx, methodMute, map[string]any{
		"scope": "peer",
		"track": "audio",
		"uid":   float64(uid),
		"muted": muted,
	})
}

// MutePeerVideo toggles playback of the remote peer's video.
func (p *Pool) MutePeerVideo(ctx context.Context, uid uint32, muted bool) error {
	return p.activeInvoke(ctx, methodMute, map[string]any{
		"scope": "peer",
		"track": "video",
		"uid":   float64(uid),
		"muted": muted,
	})
}

// SetPeerHandle tells the bridge which remote uid to render.
func (p *Pool) SetPeerHandle(ctx context.Context, uid uint32) error {
	return p.activeInvoke(ctx, methodSetPeer, map[string]any{
		"uid": float64(uid),
	})
}

// Close shuts down health checking, the event stream and every node.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.events
	p.events = nil
	p.active = nil
	nodes := p.nodes
	p.mu.Unlock()

	close(p.healthStop)
	if cancel != nil {
		cancel()
	}

	var firstErr error
	for _, n := range nodes {
		if err := n.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.wg.Wait()
	slog.Info("[Bridge] Pool closed")
	return firstErr
}

func (p *Pool) activeInvoke(ctx context.Context, method string, fields map[string]any) error {
	p.mu.Lock()
	n := p.active
	channel := p.channel
	p.mu.Unlock()

	if n == nil {
		return ErrNotJoined
	}
	fields["channel"] = channel
	_, err := n.invoke(ctx, method, fields)
	return err
}

// eventLoop forwards streamed bridge events to the handler until the
// stream or its context ends.
func (p *Pool) eventLoop(ctx context.Context, n *node, channel string, uid uint32) {
	defer p.wg.Done()

	stream, err := n.openEvents(ctx, channel, uid)
	if err != nil {
		slog.Error("[Bridge] Event stream failed", "node_id", n.id, "channel", channel, "error", err)
		return
	}

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if ctx.Err() == nil {
				slog.Warn("[Bridge] Event stream ended", "node_id", n.id, "channel", channel, "error", err)
			}
			return
		}
		ev, err := decodeEvent(msg)
		if err != nil {
			slog.Warn("[Bridge] Dropping malformed event", "node_id", n.id, "error", err)
			continue
		}
		slog.Debug("[Bridge] Event", "kind", ev.Kind, "channel", ev.Channel, "peer_uid", ev.PeerUID)
		if p.handler != nil {
			p.handler.HandleMediaEvent(ev)
		}
	}
}

// healthLoop pings every node on a timer and flips its health flag.
func (p *Pool) healthLoop() {
	defer p.wg.Done()

	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.healthStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			nodes := p.nodes
			p.mu.Unlock()
			for _, n := range nodes {
				ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
				err := n.ping(ctx)
				cancel()
				if err != nil {
					if n.healthy.Swap(false) {
						slog.Warn("[Bridge] Node unhealthy", "node_id", n.id, "error", err)
					}
					continue
				}
				if !n.healthy.Swap(true) {
					slog.Info("[Bridge] Node recovered", "node_id", n.id)
				}
			}
		}
	}
}

var _ media.Engine = (*Pool)(nil)
