package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"pubranker/internal/app"
	"pubranker/internal/syncer"
	"pubranker/pkg/logger"

	"github.com/gorilla/websocket"
)

// WSHandler streams one quiz's ranking, the sync status and refresh signals
// to a presentation client and accepts scoring and sync commands.
type WSHandler struct {
	gateway  *app.Gateway
	sync     *syncer.Machine
	log      logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(gateway *app.Gateway, machine *syncer.Machine, log logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		gateway: gateway,
		sync:    machine,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type scorePayload struct {
	TeamID  string `json:"teamId"`
	RoundID string `json:"roundId"`
	Points  int    `json:"points"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades the request and serves the quiz named by ?quizId=.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	rankings, cancelRanking, err := h.gateway.Subscribe(ctx, quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer cancelRanking()
	statuses, cancelStatus := h.sync.Subscribe()
	defer cancelStatus()
	refresh, cancelRefresh := h.sync.SubscribeRefresh()
	defer cancelRefresh()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "ws upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var workers sync.WaitGroup

	emit := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-closeSignals:
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Warn(ctx, "ws write failed", logger.String("quiz", quizID), logger.Error(err))
				return
			}
		}
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		for {
			select {
			case lb, ok := <-rankings:
				if !ok {
					return
				}
				emit(outboundMessage{Type: "ranking", Payload: lb})
			case st, ok := <-statuses:
				if !ok {
					return
				}
				emit(outboundMessage{Type: "status", Payload: st})
			case _, ok := <-refresh:
				if !ok {
					return
				}
				emit(outboundMessage{Type: "refresh"})
			case <-closeSignals:
				return
			}
		}
	}()

	runSync := func(op func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := op(context.WithoutCancel(ctx)); err != nil {
				emit(errorMessage(err))
			}
		}()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "score", "clearScore":
			var payload scorePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid score payload"}})
				continue
			}
			if inbound.Type == "score" {
				err = h.gateway.SetScore(ctx, payload.TeamID, payload.RoundID, payload.Points)
			} else {
				err = h.gateway.ClearScore(ctx, payload.TeamID, payload.RoundID)
			}
			if err != nil {
				emit(errorMessage(err))
			}
		case "push":
			runSync(h.sync.Push)
		case "pull":
			runSync(h.sync.Pull)
		default:
			emit(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	workers.Wait()
	close(send)
	<-writerDone
}
