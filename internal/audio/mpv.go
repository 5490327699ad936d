package audio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os/exec"
	"sync"
	"time"
)

// event is a decoded mpv IPC notification.
type event struct {
	Volume    *float64
	EndReason string // "eof", "stop", "quit", "error", "redirect"
	FileError string
	Err       error
}

type controllerOptions struct {
	MPVPath        string
	IPCPath        string
	Args           []string
	CaptureStdout  bool
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger         *slog.Logger
}

// controller owns one mpv process and its JSON IPC connection.
type controller struct {
	opts   controllerOptions
	log    *slog.Logger
	cmd    *exec.Cmd
	stdout io.ReadCloser
	conn   net.Conn
	mu     sync.Mutex
	events chan event
	closed bool

	reapOnce sync.Once
	reapErr  error
}

func newController(opts controllerOptions) *controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &controller{
		opts:   opts,
		log:    opts.Logger,
		events: make(chan event, 32),
	}
}

// start launches mpv (unless disabled), connects to its IPC socket and
// starts reading events.
func (c *controller) start(ctx context.Context) error {
	if !c.opts.DisableProcess {
		if err := c.spawn(); err != nil {
			return err
		}
	}
	if err := c.connect(ctx); err != nil {
		c.stop()
		return err
	}
	if err := c.send(map[string]any{"command": []any{"observe_property", 1, "volume"}}); err != nil {
		c.stop()
		return err
	}
	go c.readLoop()
	return nil
}

func (c *controller) spawn() error {
	args := append([]string{
		"--no-config",
		"--no-terminal",
		"--no-video",
		"--force-window=no",
		"--input-ipc-server=" + c.opts.IPCPath,
	}, c.opts.Args...)
	c.log.Debug("spawning mpv", slog.String("mpv_path", c.opts.MPVPath), slog.Any("args", args))
	// not bound to the open context: the process outlives Open
	c.cmd = exec.Command(c.opts.MPVPath, args...)
	if c.opts.CaptureStdout {
		out, err := c.cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("mpv stdout: %w", err)
		}
		c.stdout = out
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	c.log.Debug("mpv started", slog.Int("pid", c.cmd.Process.Pid))
	return nil
}

func (c *controller) connect(ctx context.Context) error {
	dial := c.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 2 * time.Second}).DialContext
	}
	var (
		conn net.Conn
		err  error
	)
	baseDelay := 25 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 12
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < maxRetries; i++ {
		conn, err = dial(ctx, "unix", c.opts.IPCPath)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<uint(i))
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		case <-time.After(delay + jitter):
		}
	}
	return fmt.Errorf("connect mpv ipc: %w", err)
}

func (c *controller) send(cmd map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

func (c *controller) setProperty(name string, value any) error {
	return c.send(map[string]any{"command": []any{"set_property", name, value}})
}

// stop asks mpv to quit, closes the IPC connection and reaps the process.
func (c *controller) stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.conn != nil {
		b, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
		_, _ = c.conn.Write(append(b, '\n'))
		_ = c.conn.Close()
		c.conn = nil
	}
	cmd := c.cmd
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = c.reap()
	}
}

// reap waits for the mpv process exactly once.
func (c *controller) reap() error {
	c.reapOnce.Do(func() {
		if c.cmd != nil && c.cmd.Process != nil {
			c.reapErr = c.cmd.Wait()
		}
	})
	return c.reapErr
}

func (c *controller) readLoop() {
	defer close(c.events)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.events <- event{Err: fmt.Errorf("decode: %w", err)}
			continue
		}
		switch msg.Event {
		case "property-change":
			if msg.Name == "volume" {
				if v, ok := toFloat(msg.Data); ok {
					c.events <- event{Volume: &v}
				}
			}
		case "end-file":
			c.events <- event{EndReason: msg.Reason, FileError: msg.FileError}
		}
	}
}

type ipcMessage struct {
	Event     string `json:"event"`
	Name      string `json:"name"`
	Data      any    `json:"data"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
