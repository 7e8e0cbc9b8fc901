package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// ============================================================================
// mpv JSON IPC client
// ============================================================================
//
// Wire format (one JSON object per line, both directions):
//
//	-> {"command":["get_property","pause"],"request_id":7}
//	<- {"error":"success","data":false,"request_id":7}
//	<- {"event":"file-loaded"}
//
// A single reader goroutine demultiplexes replies (by request_id) and events.
// Requests may be issued from any goroutine.
// ============================================================================

// mpvMaxLineBytes bounds a single IPC line. Property replies such as
// track-list can be large.
const mpvMaxLineBytes = 1 << 20

// mpvEventBuf is the event queue size between the reader and the event pump.
const mpvEventBuf = 64

var (
	errMPVClosed  = errors.New("mpv connection closed")
	errMPVTimeout = errors.New("mpv request timed out")
)

// mpvError is a non-success reply from mpv.
type mpvError struct {
	Command string
	Message string
}

func (e *mpvError) Error() string {
	return fmt.Sprintf("mpv %s: %s", e.Command, e.Message)
}

// Is maps mpv's "property unavailable" reply onto ErrPropertyUnavailable.
func (e *mpvError) Is(target error) bool {
	return target == ErrPropertyUnavailable && e.Message == "property unavailable"
}

type mpvRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// mpvMessage is any line received from mpv: a reply or an event.
type mpvMessage struct {
	RequestID *int64          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	Event  string   `json:"event,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Args   []string `json:"args,omitempty"`
}

// mpvEvent is an asynchronous notification from mpv.
type mpvEvent struct {
	Name   string
	Reason string
	Args   []string
}

// MPVClient manages the JSON IPC connection to mpv.
type MPVClient struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex // guards conn writes, pending and nextID
	conn    net.Conn
	pending map[int64]chan mpvMessage
	nextID  int64

	events    chan mpvEvent
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewMPVClient connects to mpv's IPC socket, retrying with a Fibonacci backoff
// while mpv starts up, and starts the reader goroutine.
func NewMPVClient(ctx context.Context, cfg MPVConfig, logger *slog.Logger) (*MPVClient, error) {
	c := &MPVClient{
		socketPath: ExpandPath(cfg.SocketPath),
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:     logger,
		pending:    make(map[int64]chan mpvMessage),
		events:     make(chan mpvEvent, mpvEventBuf),
		done:       make(chan struct{}),
	}

	if err := c.connectWithRetry(ctx, cfg.RetryAttempts, time.Duration(cfg.RetryBaseMS)*time.Millisecond); err != nil {
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *MPVClient) connectWithRetry(ctx context.Context, attempts int, base time.Duration) error {
	b := retry.NewFibonacci(base)
	b = retry.WithCappedDuration(5*time.Second, b)
	b = retry.WithMaxRetries(uint64(attempts), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		d := net.Dialer{Timeout: c.timeout}
		conn, err := d.DialContext(ctx, "unix", c.socketPath)
		if err != nil {
			c.logger.Warn("mpv connection failed; retrying...", "error", err, "attempt", attempt)
			return retry.RetryableError(err)
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to mpv at %s after %d attempts: %w", c.socketPath, attempt, err)
	}

	c.logger.Info("connected to mpv", "socket", c.socketPath)
	return nil
}

// readLoop owns the read side of the connection until it fails.
func (c *MPVClient) readLoop() {
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 64*1024), mpvMaxLineBytes)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg mpvMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Debug("ignoring malformed mpv line", "error", err)
			continue
		}

		if msg.Event != "" {
			select {
			case c.events <- mpvEvent{Name: msg.Event, Reason: msg.Reason, Args: msg.Args}:
			case <-c.done:
				return
			}
			continue
		}

		if msg.RequestID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.RequestID]
		delete(c.pending, *msg.RequestID)
		c.mu.Unlock()

		if ok {
			ch <- msg // buffered, never blocks
		}
	}

	err := sc.Err()
	if err == nil {
		err = errMPVClosed
	}
	c.shutdown(err)
}

// shutdown records the terminal error and wakes up every waiter.
func (c *MPVClient) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.readErr = err
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed when the connection to mpv is gone.
func (c *MPVClient) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended; nil while it is alive.
func (c *MPVClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Events returns the stream of asynchronous mpv events.
func (c *MPVClient) Events() <-chan mpvEvent { return c.events }

// Close closes the connection.
func (c *MPVClient) Close() error {
	c.shutdown(errMPVClosed)
	return nil
}

// command sends one IPC command and waits for its reply.
func (c *MPVClient) command(args ...any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, errors.New("empty mpv command")
	}
	name := fmt.Sprint(args[0])

	select {
	case <-c.done:
		return nil, errMPVClosed
	default:
	}

	reply := make(chan mpvMessage, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = reply

	payload, err := json.Marshal(mpvRequest{Command: args, RequestID: id})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	payload = append(payload, '\n')

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err = c.conn.Write(payload)
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		if msg.Error != "success" {
			return nil, &mpvError{Command: name, Message: msg.Error}
		}
		return msg.Data, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, errMPVTimeout)
	case <-c.done:
		return nil, errMPVClosed
	}
}

// getProperty reads a property into v. A null value is reported as
// ErrPropertyUnavailable.
func (c *MPVClient) getProperty(name string, v any) error {
	data, err := c.command("get_property", name)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%s: %w", name, ErrPropertyUnavailable)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// CurrentTrackIsImage reports whether the current video track is an image or
// album art.
func (c *MPVClient) CurrentTrackIsImage() (bool, error) {
	var image bool
	if err := c.getProperty("current-tracks/video/image", &image); err != nil {
		return false, err
	}
	if image {
		return true, nil
	}

	var albumArt bool
	err := c.getProperty("current-tracks/video/albumart", &albumArt)
	if errors.Is(err, ErrPropertyUnavailable) {
		return false, nil
	}
	return albumArt, err
}

// ContainerFPS returns container-fps, falling back to the filter chain's
// estimate.
func (c *MPVClient) ContainerFPS() (float64, error) {
	var fps float64
	err := c.getProperty("container-fps", &fps)
	if err == nil && fps > 0 {
		return fps, nil
	}
	if err != nil && !errors.Is(err, ErrPropertyUnavailable) {
		return 0, err
	}

	if err := c.getProperty("estimated-vf-fps", &fps); err != nil {
		return 0, err
	}
	return fps, nil
}

// DroppedFrameCount returns mpv's frame-drop-count.
func (c *MPVClient) DroppedFrameCount() (int64, error) {
	var n int64
	if err := c.getProperty("frame-drop-count", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *MPVClient) Paused() (bool, error) {
	var p bool
	if err := c.getProperty("pause", &p); err != nil {
		return false, err
	}
	return p, nil
}

// Playing reports whether a file is currently open.
func (c *MPVClient) Playing() (bool, error) {
	var path string
	err := c.getProperty("path", &path)
	if errors.Is(err, ErrPropertyUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return path != "", nil
}

// SetRateFilter installs the labelled fps filter. mpv replaces an existing
// filter carrying the same label in place.
func (c *MPVClient) SetRateFilter(fps int) error {
	filter := fmt.Sprintf("@%s:fps=fps=%d", rateFilterLabel, fps)
	if _, err := c.command("vf", "add", filter); err != nil {
		return fmt.Errorf("set rate filter: %w", err)
	}
	return nil
}

// ClearRateFilter removes the labelled fps filter if it is in the chain.
func (c *MPVClient) ClearRateFilter() error {
	var chain []struct {
		Label string `json:"label"`
	}
	if err := c.getProperty("vf", &chain); err != nil && !errors.Is(err, ErrPropertyUnavailable) {
		return fmt.Errorf("read filter chain: %w", err)
	}

	for _, f := range chain {
		if f.Label == rateFilterLabel {
			if _, err := c.command("vf", "remove", "@"+rateFilterLabel); err != nil {
				return fmt.Errorf("clear rate filter: %w", err)
			}
			return nil
		}
	}
	return nil
}

func (c *MPVClient) SetDisplayFPS(fps int) error {
	if _, err := c.command("set_property", "override-display-fps", fps); err != nil {
		return fmt.Errorf("set display fps: %w", err)
	}
	return nil
}

// ClearDisplayFPS resets override-display-fps; mpv treats 0 as no override.
func (c *MPVClient) ClearDisplayFPS() error {
	if _, err := c.command("set_property", "override-display-fps", 0); err != nil {
		return fmt.Errorf("clear display fps: %w", err)
	}
	return nil
}

func (c *MPVClient) ShowText(text string, d time.Duration) error {
	if _, err := c.command("show-text", text, strconv.FormatInt(d.Milliseconds(), 10)); err != nil {
		return fmt.Errorf("show text: %w", err)
	}
	return nil
}

// ============================================================================
// Event pump
// ============================================================================

// runMPVEventPump translates mpv events into daemon Events until ctx is
// canceled or the connection drops.
//
// script-message commands arrive as client-message events; their first argument
// is matched against the configured command names.
func runMPVEventPump(ctx context.Context, client *MPVClient, names CommandsConfig, out chan<- Event, logger *slog.Logger) error {
	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Attaching to an mpv that is already playing: treat it as a fresh load.
	if playing, err := client.Playing(); err != nil {
		logger.Debug("could not query current file", "error", err)
	} else if playing {
		logger.Info("mpv already playing; starting session")
		if !send(FileLoaded{}) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-client.Done():
			return client.Err()

		case me := <-client.Events():
			ev, ok := translateMPVEvent(me, names)
			if !ok {
				continue
			}
			logger.Debug("mpv event", "event", me.Name, "args", me.Args)
			if !send(ev) {
				return nil
			}
		}
	}
}

// translateMPVEvent maps one mpv event onto a daemon Event.
func translateMPVEvent(me mpvEvent, names CommandsConfig) (Event, bool) {
	switch me.Name {
	case "file-loaded":
		return FileLoaded{}, true
	case "end-file":
		return EndFile{Reason: me.Reason}, true
	case "client-message":
		if len(me.Args) == 0 {
			return nil, false
		}
		const origin = "mpv"
		switch me.Args[0] {
		case names.Reset:
			return ResetRequested{Origin: origin}, true
		case names.Toggle:
			return ToggleRequested{Origin: origin}, true
		case names.Diagnostic:
			return DiagnosticRequested{Origin: origin}, true
		}
	}
	return nil, false
}
