// Package audio turns audio locators into live sinks backed by one mpv process
// per track, either playing locally or encoding Opus for a voice connection.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tunez/guildradio/internal/playback"
)

type Mode string

const (
	// ModeLocal plays on the host's audio device.
	ModeLocal Mode = "local"
	// ModeDiscord encodes Ogg/Opus and streams packets to a voice connection.
	ModeDiscord Mode = "discord"
)

var ErrNoVoice = errors.New("audio: no voice connection for guild")

type Options struct {
	Mode      Mode
	MPVPath   string
	IPCDir    string
	ExtraArgs []string
	// Bitrate of the Opus encoder in bits per second.
	Bitrate int
	Packets PacketRouter
	Logger  *slog.Logger

	// DisableProcess connects to an existing IPC socket instead of spawning mpv.
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	// ipcPath overrides the generated socket path.
	ipcPath func() string
}

type Pipeline struct {
	opts Options
	log  *slog.Logger
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Mode == "" {
		opts.Mode = ModeLocal
	}
	if opts.Mode != ModeLocal && opts.Mode != ModeDiscord {
		return nil, fmt.Errorf("audio: unknown mode %q", opts.Mode)
	}
	if opts.Mode == ModeDiscord && opts.Packets == nil {
		return nil, fmt.Errorf("audio: discord mode needs a packet router")
	}
	if opts.MPVPath == "" {
		opts.MPVPath = "mpv"
	}
	if opts.IPCDir == "" {
		opts.IPCDir = os.TempDir()
	}
	if opts.Bitrate <= 0 {
		opts.Bitrate = 96000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{opts: opts, log: opts.Logger}, nil
}

func (p *Pipeline) Mode() Mode { return p.opts.Mode }

func (p *Pipeline) args(ref string, tuning playback.Tuning) []string {
	start := tuning.Gain
	if tuning.StartMuted {
		start = 0
	}
	args := []string{
		"--volume-max=200",
		"--volume=" + volumeArg(start),
		"--ytdl-format=bestaudio/best",
	}
	if p.opts.Mode == ModeDiscord {
		args = append(args,
			"--o=-",
			"--of=ogg",
			"--oac=libopus",
			"--oacopts=b="+strconv.Itoa(p.opts.Bitrate),
			"--ofopts=page_duration=20000",
			"--audio-samplerate=48000",
			"--audio-channels=stereo",
		)
	}
	args = append(args, p.opts.ExtraArgs...)
	return append(args, "--", ref)
}

// Open starts mpv for ref and returns once its IPC socket answers.
func (p *Pipeline) Open(ctx context.Context, guildID, ref string, tuning playback.Tuning) (playback.Sink, error) {
	var packets PacketWriter
	if p.opts.Mode == ModeDiscord {
		w, err := p.opts.Packets.PacketWriter(guildID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoVoice, err)
		}
		packets = w
	}

	ipcPath := filepath.Join(p.opts.IPCDir, "guildradio-"+uuid.NewString()+".sock")
	if p.opts.ipcPath != nil {
		ipcPath = p.opts.ipcPath()
	}
	log := p.log.With(slog.String("guild", guildID))
	ctrl := newController(controllerOptions{
		MPVPath:        p.opts.MPVPath,
		IPCPath:        ipcPath,
		Args:           p.args(ref, tuning),
		CaptureStdout:  p.opts.Mode == ModeDiscord && !p.opts.DisableProcess,
		DisableProcess: p.opts.DisableProcess,
		Dial:           p.opts.Dial,
		Logger:         log,
	})
	if err := ctrl.start(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}

	s := &Sink{
		ctrl:    ctrl,
		log:     log,
		done:    make(chan error, 1),
		ipcPath: ipcPath,
		owned:   !p.opts.DisableProcess,
	}
	pumpDone := make(chan error, 1)
	if packets != nil && ctrl.stdout != nil {
		go func() {
			n, err := Pump(context.Background(), ctrl.stdout, packets)
			log.Debug("opus pump finished", slog.Int("packets", n), slog.Any("err", err))
			if err != nil {
				// mpv would block on a full stdout pipe
				ctrl.stop()
			}
			pumpDone <- err
		}()
	} else {
		pumpDone <- nil
	}
	go s.watch(pumpDone)
	return s, nil
}

// Sink is one playing track.
type Sink struct {
	ctrl    *controller
	log     *slog.Logger
	ipcPath string
	owned   bool

	mu      sync.Mutex
	stopped bool
	volume  float64

	done chan error
	once sync.Once
}

// SetGain sets the mpv volume; 1.0 is unity, the range is 0..2.
func (s *Sink) SetGain(level float64) error {
	return s.ctrl.setProperty("volume", clampVolume(level))
}

// Volume is the last volume mpv reported, in percent.
func (s *Sink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Sink) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.ctrl.stop()
	return nil
}

func (s *Sink) Done() <-chan error { return s.done }

func (s *Sink) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Sink) watch(pumpDone <-chan error) {
	var endErr error
	for ev := range s.ctrl.events {
		switch {
		case ev.Volume != nil:
			s.mu.Lock()
			s.volume = *ev.Volume
			s.mu.Unlock()
		case ev.EndReason == "error":
			msg := ev.FileError
			if msg == "" {
				msg = "playback error"
			}
			endErr = fmt.Errorf("mpv: %s", msg)
		case ev.EndReason != "":
			s.log.Debug("mpv end-file", slog.String("reason", ev.EndReason))
		case ev.Err != nil:
			s.log.Debug("mpv ipc", slog.Any("err", ev.Err))
		}
	}
	pumpErr := <-pumpDone
	s.ctrl.stop()
	if s.owned {
		_ = os.Remove(s.ipcPath)
	}

	var err error
	switch {
	case s.isStopped():
	case endErr != nil:
		err = endErr
	case pumpErr != nil:
		err = pumpErr
	}
	s.once.Do(func() { s.done <- err })
}

func clampVolume(level float64) float64 {
	v := level * 100
	if v < 0 {
		return 0
	}
	if v > 200 {
		return 200
	}
	return v
}

func volumeArg(level float64) string {
	return strconv.FormatFloat(clampVolume(level), 'f', 0, 64)
}
