// Package bridgeclient drives a remote media-bridge node over gRPC.
// The bridge RPCs carry structpb payloads, so no generated stubs are
// required on the client side.
package bridgeclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/peercall/peercall/internal/media"
)

// Bridge service methods.
const (
	methodJoin      = "/peercall.bridge.v1.Bridge/Join"
	methodLeave     = "/peercall.bridge.v1.Bridge/Leave"
	methodPublish   = "/peercall.bridge.v1.Bridge/Publish"
	methodMute      = "/peercall.bridge.v1.Bridge/Mute"
	methodSetPeer   = "/peercall.bridge.v1.Bridge/SetPeerHandle"
	methodPing      = "/peercall.bridge.v1.Bridge/Ping"
	methodEvents    = "/peercall.bridge.v1.Bridge/Events"
	eventStreamName = "Events"
)

// NodeConfig holds the connection settings for one bridge node.
type NodeConfig struct {
	Address           string
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultNodeConfig returns sensible defaults.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Address:           "localhost:9090",
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// node is one connected media-bridge instance.
type node struct {
	id      string
	address string
	conn    *grpc.ClientConn
	healthy atomic.Bool
}

// dialNode connects to a bridge node.
func dialNode(id string, cfg NodeConfig) (*node, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to media bridge at %s: %w", cfg.Address, err)
	}

	n := &node{id: id, address: cfg.Address, conn: conn}
	n.healthy.Store(true)
	slog.Info("[Bridge] Connected to media bridge", "node_id", id, "address", cfg.Address)
	return n, nil
}

// invoke calls one unary bridge RPC with a structpb request.
func (n *node) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := n.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if msg := stringField(resp, "error"); msg != "" {
		return nil, fmt.Errorf("%s: bridge error: %s", method, msg)
	}
	return resp, nil
}

// ping checks node liveness.
func (n *node) ping(ctx context.Context) error {
	_, err := n.invoke(ctx, methodPing, map[string]any{})
	return err
}

// openEvents starts the server-streamed event feed for a channel.
func (n *node) openEvents(ctx context.Context, channel string, uid uint32) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: eventStreamName, ServerStreams: true}
	stream, err := n.conn.NewStream(ctx, desc, methodEvents)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"channel": channel,
		"uid":     float64(uid),
	})
	if err != nil {
		return nil, fmt.Errorf("encode event subscription: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send event subscription: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send side: %w", err)
	}
	return stream, nil
}

func (n *node) close() error {
	return n.conn.Close()
}

// decodeEvent maps one streamed bridge event to a media.Event.
func decodeEvent(s *structpb.Struct) (media.Event, error) {
	var ev media.Event
	switch kind := stringField(s, "kind"); kind {
	case "joined":
		ev.Kind = media.EventJoined
	case "peer_joined":
		ev.Kind = media.EventPeerJoined
	case "peer_left":
		ev.Kind = media.EventPeerLeft
	default:
		return ev, fmt.Errorf("unknown event kind %q", kind)
	}
	ev.Channel = stringField(s, "channel")
	ev.LocalUID = uint32(numberField(s, "local_uid"))
	ev.PeerUID = uint32(numberField(s, "peer_uid"))
	return ev, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(s *structpb.Struct, key string) float64 {
	if s == nil {
		return 0
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}
