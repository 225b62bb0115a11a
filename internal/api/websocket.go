// File: internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
	// Buffer for replies and for the outcome subscription.
	sendChannelSize = 256
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The server binds to loopback by default and the control panel may
		// be served from a dev server on another port.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// wsClient is one interaction socket. It streams every engine outcome and
// accepts instructions, raw intents and stop requests.
type wsClient struct {
	server *Server
	logger *zap.Logger
	conn   *websocket.Conn
	// send is drained only by writePump, which is the sole writer.
	send    chan WSMessage
	pending sync.WaitGroup
}

// handleInteract upgrades the connection and runs the pumps until either
// side goes away or the server shuts down.
func (s *Server) handleInteract() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error.
			s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		s.logger.Info("WebSocket connection established.", zap.String("remoteAddr", r.RemoteAddr))

		// The request context ends with this handler; the socket outlives
		// neither the server nor its own pumps.
		ctx, cancel := context.WithCancel(s.streamCtx)
		outcomes, unsubscribe := s.agent.Engine().Subscribe(sendChannelSize)
		client := &wsClient{
			server: s,
			logger: s.logger.With(zap.String("remoteAddr", r.RemoteAddr)),
			conn:   conn,
			send:   make(chan WSMessage, sendChannelSize),
		}

		s.streams.Add(1)
		go func() {
			defer s.streams.Done()
			client.writePump(ctx, outcomes)
		}()

		client.readPump(ctx)
		cancel()
		client.pending.Wait()
		unsubscribe()
		s.logger.Debug("WebSocket interaction handler finished.", zap.String("remoteAddr", r.RemoteAddr))
	}
}

// readPump decodes client messages until the connection fails or closes.
func (c *wsClient) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
			} else {
				c.logger.Info("WebSocket connection closed.")
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// The frame arrived whole; only its body was bad.
			c.sendError("", fmt.Sprintf("Malformed message: %v", err))
			continue
		}
		c.logger.Debug("Received message from client", zap.String("type", string(msg.Type)), zap.String("requestID", msg.RequestID))
		c.processMessage(ctx, msg)
	}
}

// writePump forwards replies and engine outcomes to the socket and keeps it
// alive with pings. It returns when ctx ends, the engine stops or a write
// fails, closing the connection so that readPump unblocks.
func (c *wsClient) writePump(ctx context.Context, outcomes <-chan engine.Outcome) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var msg WSMessage
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseGoingAway, "server shutting down")
			return

		case o, ok := <-outcomes:
			if !ok {
				c.writeClose(websocket.CloseGoingAway, "engine stopped")
				return
			}
			msg = newMessage(MsgTypeOutcome, "", o)

		case msg = <-c.send:

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("Failed to set write deadline for PING", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending PING message to WebSocket", zap.Error(err))
				return
			}
			continue
		}

		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error("Failed to set write deadline", zap.Error(err))
			return
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Debug("Error writing JSON message to WebSocket", zap.Error(err))
			return
		}
	}
}

func (c *wsClient) writeClose(code int, text string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

// processMessage dispatches one client message. Planning can take seconds,
// so instructions run off the read loop to keep pongs and closes flowing.
func (c *wsClient) processMessage(ctx context.Context, msg WSMessage) {
	switch msg.Type {
	case MsgTypeInstruction:
		var req InstructionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || strings.TrimSpace(req.Instruction) == "" {
			c.sendError(msg.RequestID, "Instruction message requires a non-empty 'instruction' field.")
			return
		}
		c.sendStatus(msg.RequestID, "Planning instruction.")
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			c.handleInstruction(ctx, msg.RequestID, req.Instruction)
		}()

	case MsgTypeEnqueue:
		req := ActionsRequest{Actions: msg.Data}
		intents, err := req.Intents()
		if err != nil || len(intents) == 0 {
			c.sendError(msg.RequestID, "Enqueue message requires a non-empty intent list.")
			return
		}
		report, err := c.server.agent.Engine().Enqueue(ctx, intents)
		if err != nil {
			c.sendError(msg.RequestID, err.Error())
			return
		}
		c.sendMessage(newMessage(MsgTypeEnqueueReport, msg.RequestID, report))

	case MsgTypeStop:
		if err := c.server.agent.Engine().StopAll(ctx); err != nil {
			c.sendError(msg.RequestID, err.Error())
			return
		}
		c.sendStatus(msg.RequestID, "Stopped.")

	default:
		c.logger.Warn("Received unknown message type from client", zap.String("type", string(msg.Type)))
		c.sendError(msg.RequestID, fmt.Sprintf("Unknown or unsupported message type: %s", msg.Type))
	}
}

func (c *wsClient) handleInstruction(ctx context.Context, requestID, instruction string) {
	resp, err := c.server.agent.Handle(ctx, instruction)
	if err != nil {
		if ctx.Err() == nil {
			c.sendError(requestID, err.Error())
		}
		return
	}
	c.sendMessage(newMessage(MsgTypeAgentResponse, requestID, resp))
}

// sendMessage queues msg for writePump, dropping it if the client is not
// keeping up.
func (c *wsClient) sendMessage(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Error("WebSocket send buffer full, dropping message. Client may be unresponsive.",
			zap.String("requestID", msg.RequestID), zap.String("type", string(msg.Type)))
	}
}

func (c *wsClient) sendError(requestID, errorMessage string) {
	c.sendMessage(newMessage(MsgTypeSystemError, requestID, map[string]string{"error": errorMessage}))
}

func (c *wsClient) sendStatus(requestID, status string) {
	c.sendMessage(newMessage(MsgTypeStatusUpdate, requestID, map[string]string{"status": status}))
}

func newMessage(msgType MessageType, requestID string, payload interface{}) WSMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("failed to encode %s payload: %v", msgType, err)})
		msgType = MsgTypeSystemError
	}
	return WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}
