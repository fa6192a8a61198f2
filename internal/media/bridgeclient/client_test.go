package bridgeclient

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/peercall/peercall/internal/media"
)

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   media.Event
	}{
		{
			name: "joined",
			fields: map[string]any{
				"kind":      "joined",
				"channel":   "ch-1",
				"local_uid": float64(7),
			},
			want: media.Event{Kind: media.EventJoined, Channel: "ch-1", LocalUID: 7},
		},
		{
			name: "peer joined",
			fields: map[string]any{
				"kind":     "peer_joined",
				"channel":  "ch-1",
				"peer_uid": float64(42),
			},
			want: media.Event{Kind: media.EventPeerJoined, Channel: "ch-1", PeerUID: 42},
		},
		{
			name: "peer left",
			fields: map[string]any{
				"kind":     "peer_left",
				"peer_uid": float64(42),
			},
			want: media.Event{Kind: media.EventPeerLeft, PeerUID: 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(mustStruct(t, tt.fields))
			if err != nil {
				t.Fatalf("decodeEvent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeEventUnknownKind(t *testing.T) {
	_, err := decodeEvent(mustStruct(t, map[string]any{"kind": "rebooted"}))
	if err == nil {
		t.Error("decodeEvent() error = nil, want error for unknown kind")
	}
}

func TestStructFieldHelpers(t *testing.T) {
	s := mustStruct(t, map[string]any{"name": "x", "count": float64(3)})
	if got := stringField(s, "name"); got != "x" {
		t.Errorf("stringField(name) = %q, want x", got)
	}
	if got := stringField(s, "missing"); got != "" {
		t.Errorf("stringField(missing) = %q, want empty", got)
	}
	if got := numberField(s, "count"); got != 3 {
		t.Errorf("numberField(count) = %v, want 3", got)
	}
	if got := stringField(nil, "name"); got != "" {
		t.Errorf("stringField(nil) = %q, want empty", got)
	}
}
