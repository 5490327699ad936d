package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tunez/guildradio/internal/audio"
)

var (
	ErrNotConnected = errors.New("discord: not connected to voice")
	errVoiceStalled = errors.New("discord: voice send stalled")
)

// Voice owns the bot's voice connections, one per guild.
type Voice struct {
	s   *discordgo.Session
	log *slog.Logger
	// StallTimeout bounds how long a packet may wait for the voice sender.
	StallTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*discordgo.VoiceConnection
}

func NewVoice(s *discordgo.Session, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.Default()
	}
	return &Voice{s: s, log: logger, StallTimeout: 2 * time.Second, conns: make(map[string]*discordgo.VoiceConnection)}
}

// Join connects to channelID, moving the existing connection if the bot is
// elsewhere in the guild.
func (v *Voice) Join(ctx context.Context, guildID, channelID string) error {
	v.mu.Lock()
	vc := v.conns[guildID]
	v.mu.Unlock()
	if vc != nil {
		if vc.ChannelID == channelID {
			return nil
		}
		if err := vc.ChangeChannel(channelID, false, true); err != nil {
			return fmt.Errorf("move to voice channel: %w", err)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	vc, err := v.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return fmt.Errorf("join voice channel: %w", err)
	}
	v.mu.Lock()
	v.conns[guildID] = vc
	v.mu.Unlock()
	v.log.Info("joined voice", slog.String("guild", guildID), slog.String("channel", channelID))
	return nil
}

func (v *Voice) Leave(guildID string) error {
	v.mu.Lock()
	vc := v.conns[guildID]
	delete(v.conns, guildID)
	v.mu.Unlock()
	if vc == nil {
		return ErrNotConnected
	}
	_ = vc.Speaking(false)
	if err := vc.Disconnect(); err != nil {
		return fmt.Errorf("leave voice: %w", err)
	}
	v.log.Info("left voice", slog.String("guild", guildID))
	return nil
}

// ChannelID is the voice channel the bot is connected to in guildID, or "".
func (v *Voice) ChannelID(guildID string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if vc := v.conns[guildID]; vc != nil {
		return vc.ChannelID
	}
	return ""
}

// Forget drops a connection Discord already closed.
func (v *Voice) Forget(guildID string) {
	v.mu.Lock()
	delete(v.conns, guildID)
	v.mu.Unlock()
}

// Close disconnects every guild.
func (v *Voice) Close() {
	v.mu.Lock()
	ids := make([]string, 0, len(v.conns))
	for id := range v.conns {
		ids = append(ids, id)
	}
	v.mu.Unlock()
	for _, id := range ids {
		_ = v.Leave(id)
	}
}

// PacketWriter returns a writer feeding the guild's voice connection.
func (v *Voice) PacketWriter(guildID string) (audio.PacketWriter, error) {
	v.mu.Lock()
	vc := v.conns[guildID]
	v.mu.Unlock()
	if vc == nil {
		return nil, ErrNotConnected
	}
	return &opusWriter{vc: vc, stall: v.StallTimeout}, nil
}

type opusWriter struct {
	vc       *discordgo.VoiceConnection
	stall    time.Duration
	speaking sync.Once
}

func (w *opusWriter) WriteOpus(ctx context.Context, packet []byte) error {
	w.speaking.Do(func() { _ = w.vc.Speaking(true) })
	return sendPacket(ctx, w.vc.OpusSend, packet, w.stall)
}

// sendPacket blocks until the sender takes packet; the channel's capacity
// paces the encoder.
func sendPacket(ctx context.Context, out chan<- []byte, packet []byte, stall time.Duration) error {
	timer := time.NewTimer(stall)
	defer timer.Stop()
	select {
	case out <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errVoiceStalled
	}
}
