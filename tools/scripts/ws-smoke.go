// Package main is a CI-friendly smoke client for the affilink notification stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/hello_ack with a bearer token
//   - paging the full notification history (ascending, gap-free seq)
//   - optionally, that a live notification_new arrives within -wait
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "affilink/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	conn   *websocket.Conn
	userID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token    = flag.String("token", os.Getenv("AFFILINK_SMOKE_TOKEN"), "PASETO bearer token (default $AFFILINK_SMOKE_TOKEN)")
		pageSize = flag.Int("page", 50, "History page size")
		wait     = flag.Duration("wait", 0, "Wait this long for a live notification_new (0 skips)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: user_id=%s origin=%q\n", c.userID, *origin)
	}

	total, last := mustReadHistory(root, c, *pageSize, *timeout)
	if *verbose {
		fmt.Printf("history: %d notifications, last seq=%d\n", total, last)
	}

	if *wait > 0 {
		env := c.mustReadUntilType(root, v1.TypeNotificationNew, *wait)
		var p v1.NotificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal notification_new: %v", err)
		}
		if p.Seq <= last {
			fatalf("live notification seq %d not after history seq %d", p.Seq, last)
		}
		fmt.Printf("live: seq=%d type=%s title=%q\n", p.Seq, p.Type, p.Title)
	}

	fmt.Printf("OK: user_id=%s history=%d last_seq=%d\n", c.userID, total, last)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.TypeHello, v1.HelloPayload{Token: token}, stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing user_id/session_id: %+v", p)
	}
	c.userID = p.UserID
	return c
}

// mustReadHistory pages until has_more is false and checks seq continuity.
func mustReadHistory(parent context.Context, c *smokeClient, pageSize int, stepTimeout time.Duration) (int, int64) {
	var (
		after int64
		total int
	)
	for {
		mustWrite(parent, c.conn, v1.TypeNotificationHistoryFetch, v1.NotificationHistoryFetchPayload{
			AfterSeq: after,
			Limit:    pageSize,
		}, stepTimeout)

		env := c.mustReadUntilType(parent, v1.TypeNotificationHistoryChunk, stepTimeout)
		var p v1.NotificationHistoryChunkPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal history chunk: %v", err)
		}
		for _, n := range p.Notifications {
			if n.Seq != after+1 {
				fatalf("history gap: got seq=%d after=%d", n.Seq, after)
			}
			after = n.Seq
			total++
		}
		if !p.HasMore {
			return total, after
		}
		if len(p.Notifications) == 0 {
			fatalf("has_more with an empty page")
		}
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustReadUntilType skips live pushes while waiting for another type.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			switch env.Type {
			case wantType:
				return env
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			case v1.TypeNotificationNew:
				continue
			default:
				fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	p, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%s-%d", typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: p,
	})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
