package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// PacketWriter receives one Opus packet (20 ms) at a time.
type PacketWriter interface {
	WriteOpus(ctx context.Context, packet []byte) error
}

// PacketRouter finds the packet writer for a guild's voice connection.
type PacketRouter interface {
	PacketWriter(guildID string) (PacketWriter, error)
}

var opusTags = []byte("OpusTags")

const (
	pageHeaderLen   = 27
	continuedPacket = 0x01
)

// pageTap keeps the raw bytes oggreader pulls for the current page, so the
// lacing table it does not expose can be read back.
type pageTap struct {
	r   io.Reader
	raw []byte
}

func (t *pageTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.raw = append(t.raw, p[:n]...)
	return n, err
}

func (t *pageTap) reset() { t.raw = t.raw[:0] }

// lacing returns the page's header type and segment sizes. ok is false when
// raw does not hold a whole page header.
func lacing(raw []byte) (headerType byte, segments []byte, ok bool) {
	if len(raw) < pageHeaderLen {
		return 0, nil, false
	}
	n := int(raw[pageHeaderLen-1])
	if len(raw) < pageHeaderLen+n {
		return 0, nil, false
	}
	return raw[5], raw[pageHeaderLen : pageHeaderLen+n], true
}

// splitPackets cuts a page payload into packets. A segment shorter than 255
// bytes ends a packet; whatever is left over continues on the next page.
func splitPackets(payload, segments, partial []byte) (packets [][]byte, rest []byte) {
	off := 0
	for _, size := range segments {
		end := off + int(size)
		if end > len(payload) {
			end = len(payload)
		}
		partial = append(partial, payload[off:end]...)
		off = end
		if size < 255 {
			packets = append(packets, partial)
			partial = nil
		}
	}
	return packets, partial
}

// Pump reads an Ogg/Opus stream and forwards every audio packet to w,
// reassembling packets that share or span pages. It returns nil at end of
// stream.
func Pump(ctx context.Context, r io.Reader, w PacketWriter) (int, error) {
	tap := &pageTap{r: r}
	reader, _, err := oggreader.NewWith(tap)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("ogg: empty stream")
		}
		return 0, fmt.Errorf("ogg header: %w", err)
	}
	sent := 0
	var partial []byte
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		tap.reset()
		page, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("ogg page: %w", err)
		}

		var packets [][]byte
		headerType, segments, ok := lacing(tap.raw)
		if !ok {
			packets = [][]byte{page}
		} else {
			if headerType&continuedPacket == 0 {
				partial = nil
			}
			packets, partial = splitPackets(page, segments, partial)
		}
		for _, pkt := range packets {
			if len(pkt) == 0 || bytes.HasPrefix(pkt, opusTags) {
				continue
			}
			if err := w.WriteOpus(ctx, pkt); err != nil {
				return sent, err
			}
			sent++
		}
	}
}
