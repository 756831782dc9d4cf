package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/transport/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
)

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.AttemptService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws_handler").Logger(),
	}
}

// ServeWS upgrades HTTP requests to websockets and serves the exam backend
// calls. Requests are handled concurrently; responses carry the request id.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	send := make(chan protocol.Response, 16)
	writerDone := make(chan struct{})

	// Only this goroutine writes to conn.
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				failed = true
			}
		}
	}()

	ctx := r.Context()
	var handlers sync.WaitGroup
	for {
		var req protocol.Request
		if err := conn.ReadJSON(&req); err != nil {
			break
		}
		if req.ID == "" || req.Type == "" {
			send <- errorResponse(req.ID, protocol.ErrorPayload{Code: protocol.CodeInvalidRequest, Message: "id and type are required"})
			continue
		}
		handlers.Add(1)
		go func(req protocol.Request) {
			defer handlers.Done()
			send <- h.handle(ctx, req)
		}(req)
	}

	handlers.Wait()
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, req protocol.Request) protocol.Response {
	result, err := h.dispatch(ctx, req)
	if err != nil {
		payload := protocol.ErrorFor(err)
		event := h.log.Warn()
		if payload.Code != protocol.CodeInternal {
			event = h.log.Debug()
		}
		event.Err(err).Str("request_id", req.ID).Str("type", req.Type).Msg("request failed")
		return errorResponse(req.ID, payload)
	}
	data, err := json.Marshal(result)
	if err != nil {
		h.log.Error().Err(err).Str("type", req.Type).Msg("encode result")
		return errorResponse(req.ID, protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "internal error"})
	}
	return protocol.Response{ID: req.ID, Type: protocol.TypeResult, Payload: data}
}

func (h *WSHandler) dispatch(ctx context.Context, req protocol.Request) (any, error) {
	switch req.Type {
	case protocol.TypeStartAttempt:
		var p protocol.StartAttempt
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		id, err := h.service.StartAttempt(ctx, p.ExamID, p.ParticipantID, p.Mode)
		if err != nil {
			return nil, err
		}
		return protocol.AttemptStarted{AttemptID: id}, nil

	case protocol.TypeFetchExam:
		var p protocol.FetchExam
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return h.service.FetchExam(ctx, p.ExamID)

	case protocol.TypeFetchAttempt:
		var p protocol.FetchAttempt
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return h.service.FetchAttempt(ctx, p.AttemptID)

	case protocol.TypeSubmitAnswer:
		var p domain.AnswerSubmission
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		receipt, err := h.service.SubmitAnswer(ctx, p)
		if err != nil {
			return nil, err
		}
		return protocol.AnswerAck{QuestionID: receipt.QuestionID, Recorded: receipt.Recorded}, nil

	case protocol.TypeSubmitExam:
		var p protocol.SubmitExam
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.service.SubmitExam(ctx, p.AttemptID, p.Reason); err != nil {
			return nil, err
		}
		return protocol.Ack{OK: true}, nil

	case protocol.TypeReportAnomaly:
		var p protocol.ReportAnomaly
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.service.ReportAnomaly(ctx, p.AttemptID, p.Anomaly); err != nil {
			return nil, err
		}
		return protocol.Ack{OK: true}, nil

	case protocol.TypeVerifyIdentity:
		var p protocol.VerifyIdentity
		if err := protocol.Decode(req.Payload, &p); err != nil {
			return nil, err
		}
		ok, err := h.service.VerifyIdentity(ctx, p.AttemptID, p.Code)
		if err != nil {
			return nil, err
		}
		return protocol.IdentityResult{Verified: ok}, nil
	}
	return nil, &protocol.RemoteError{Code: protocol.CodeUnsupported, Message: "unsupported message type"}
}

func errorResponse(id string, payload protocol.ErrorPayload) protocol.Response {
	data, _ := json.Marshal(payload)
	return protocol.Response{ID: id, Type: protocol.TypeError, Payload: data}
}
