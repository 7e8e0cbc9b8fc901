package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// framegov-watch prints the daemon's telemetry websocket stream, one line per
// event.

type message struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3011/ws", "framegov telemetry websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The daemon pings every 20s; each ping extends the read deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(data))
				continue
			}
			fmt.Println(formatMessage(data))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatMessage renders one telemetry frame as a single line.
func formatMessage(data []byte) string {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Sprintf("[TEXT] %s", data)
	}

	ts := m.Ts.Local().Format("15:04:05.000")
	var f map[string]any
	_ = json.Unmarshal(m.Data, &f)

	switch m.Type {
	case "state_init":
		return fmt.Sprintf("%s [STATE] phase=%v target=%v/%v fps filtered=%v", ts, f["phase"], f["target_fps"], f["native_fps"], f["filtered_drop_rate"])
	case "session_started":
		return fmt.Sprintf("%s [SESSION] %v native=%v fps", ts, f["session_id"], f["native_fps"])
	case "phase_changed":
		return fmt.Sprintf("%s [PHASE] %v -> %v", ts, f["from"], f["to"])
	case "target_changed":
		return fmt.Sprintf("%s [TARGET] %v -> %v fps (native %v)", ts, f["from_fps"], f["to_fps"], f["native_fps"])
	case "drop_rate_sampled":
		if known, _ := f["filtered_known"].(bool); known {
			return fmt.Sprintf("%s [DROPS] %s %.2f/s (filtered %.2f/s)", ts, f["phase"], num(f["drop_rate"]), num(f["filtered_drop_rate"]))
		}
		return fmt.Sprintf("%s [DROPS] %s %.2f/s", ts, f["phase"], num(f["drop_rate"]))
	case "performance_warning":
		return fmt.Sprintf("%s [WARNING] low performance at %v fps (%.1f drops/s)", ts, f["target_fps"], num(f["filtered_drop_rate"]))
	default:
		return fmt.Sprintf("%s [%s] %s", ts, m.Type, m.Data)
	}
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
