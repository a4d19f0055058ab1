package rtmp

import (
	"sync"

	"github.com/nareix/joy5/av"
)

const playerBuffer = 512

// channel fans one publisher's packets out to local players. Decoder
// configuration and metadata packets are kept so late players can start
// decoding.
type channel struct {
	mu      sync.Mutex
	headers map[int]av.Packet
	players map[string]chan av.Packet
	closed  bool
}

func newChannel() *channel {
	return &channel{
		headers: make(map[int]av.Packet),
		players: make(map[string]chan av.Packet),
	}
}

func isHeader(pkt av.Packet) bool {
	switch pkt.Type {
	case av.H264DecoderConfig, av.AACDecoderConfig, av.Metadata:
		return true
	}
	return false
}

func (ch *channel) publish(pkt av.Packet) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if isHeader(pkt) {
		ch.headers[pkt.Type] = pkt
	}
	for _, out := range ch.players {
		select {
		case out <- pkt:
		default:
			// player is behind; drop rather than stall the publisher
		}
	}
}

// subscribe returns the cached headers and a packet feed for id.
func (ch *channel) subscribe(id string) ([]av.Packet, <-chan av.Packet, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil, nil, false
	}
	headers := make([]av.Packet, 0, len(ch.headers))
	for _, t := range []int{av.Metadata, av.H264DecoderConfig, av.AACDecoderConfig} {
		if pkt, ok := ch.headers[t]; ok {
			headers = append(headers, pkt)
		}
	}
	out := make(chan av.Packet, playerBuffer)
	ch.players[id] = out
	return headers, out, true
}

func (ch *channel) unsubscribe(id string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if out, ok := ch.players[id]; ok {
		delete(ch.players, id)
		close(out)
	}
}

func (ch *channel) close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	for id, out := range ch.players {
		delete(ch.players, id)
		close(out)
	}
}

func (ch *channel) playerCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.players)
}
