// Package wsclient implements the session's backend contract over the exam
// websocket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/remote"
	"exam-session-engine/internal/transport/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("wsclient: connection closed")

const writeTimeout = 10 * time.Second

var _ remote.Backend = (*Client)(nil)

// Client multiplexes backend calls over one websocket connection. It is safe
// for concurrent use.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	err     error
	done    chan struct{}
}

// Dial connects to the websocket endpoint at url.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		log:     log.With().Str("component", "ws_client").Logger(),
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var resp protocol.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug().Str("request_id", resp.ID).Msg("response without caller")
			continue
		}
		ch <- resp
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	c.log.Debug().Err(err).Msg("connection ended")
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

// call sends one request and decodes the result into out. Error frames are
// mapped back to domain sentinels.
func (c *Client) call(ctx context.Context, typ string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	id := uuid.NewString()
	ch := make(chan protocol.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.conn.WriteJSON(protocol.Request{ID: id, Type: typ, Payload: raw})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case resp := <-ch:
		if resp.Type == protocol.TypeError {
			var p protocol.ErrorPayload
			if err := json.Unmarshal(resp.Payload, &p); err != nil {
				return fmt.Errorf("decode %s error: %w", typ, err)
			}
			return fmt.Errorf("%s: %w", typ, p.Err())
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s result: %w", typ, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) StartAttempt(ctx context.Context, examID, participantID string, mode domain.Mode) (string, error) {
	var res protocol.AttemptStarted
	err := c.call(ctx, protocol.TypeStartAttempt, protocol.StartAttempt{ExamID: examID, ParticipantID: participantID, Mode: mode}, &res)
	return res.AttemptID, err
}

func (c *Client) FetchExam(ctx context.Context, examID string) (domain.ExamPayload, error) {
	var res domain.ExamPayload
	err := c.call(ctx, protocol.TypeFetchExam, protocol.FetchExam{ExamID: examID}, &res)
	return res, err
}

func (c *Client) FetchAttempt(ctx context.Context, attemptID string) (domain.AttemptSnapshot, error) {
	var res domain.AttemptSnapshot
	err := c.call(ctx, protocol.TypeFetchAttempt, protocol.FetchAttempt{AttemptID: attemptID}, &res)
	return res, err
}

// SubmitAnswer sends one answer. A duplicate that the server did not record
// is still a success.
func (c *Client) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) error {
	return c.call(ctx, protocol.TypeSubmitAnswer, sub, nil)
}

func (c *Client) SubmitExam(ctx context.Context, attemptID string, reason domain.Reason) error {
	return c.call(ctx, protocol.TypeSubmitExam, protocol.SubmitExam{AttemptID: attemptID, Reason: reason}, nil)
}

func (c *Client) ReportAnomaly(ctx context.Context, attemptID string, anomaly domain.Anomaly) error {
	return c.call(ctx, protocol.TypeReportAnomaly, protocol.ReportAnomaly{AttemptID: attemptID, Anomaly: anomaly}, nil)
}

func (c *Client) VerifyIdentity(ctx context.Context, attemptID, code string) (bool, error) {
	var res protocol.IdentityResult
	err := c.call(ctx, protocol.TypeVerifyIdentity, protocol.VerifyIdentity{AttemptID: attemptID, Code: code}, &res)
	return res.Verified, err
}
