package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/config"
	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/internal/registry"
	"github.com/acheong08/spr-isolate/internal/server"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client represents a connected WebSocket client
type Client struct {
	conn    *websocket.Conn
	config  *config.Config
	metrics *server.Metrics
	logger  zerolog.Logger
	send    chan server.Message
	// One plan at a time, cancelled when the connection goes away
	plans server.PlanGuard
}

func newClient(conn *websocket.Conn, cfg *config.Config, metrics *server.Metrics) *Client {
	return &Client{
		conn:    conn,
		config:  cfg,
		metrics: metrics,
		logger:  logging.GetLogger("ws").With().Str("remote", conn.RemoteAddr().String()).Logger(),
		send:    make(chan server.Message, 256),
	}
}

func (c *Client) SendMessage(msg server.Message) {
	select {
	case c.send <- msg:
	default:
		// Channel full, drop message
		c.logger.Warn().Str("type", string(msg.Type)).Msg("Message channel full, dropping message")
	}
}

func (c *Client) SendLog(message, level string) {
	c.SendMessage(server.NewLogMessage(message, level))
}

func (c *Client) SendProgress(percent int, stage, message string) {
	c.SendMessage(server.NewProgressMessage(percent, stage, message))
}

func (c *Client) SendError(message string, err error) {
	c.SendMessage(server.NewErrorMessage(message, err))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		// Cancel any running plan
		c.plans.Cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxPayload)

	for {
		var msg server.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		switch msg.Type {
		case server.TypePlan:
			c.handlePlan(msg)
		case server.TypePing:
			c.SendMessage(server.NewPongMessage())
		default:
			c.SendError(fmt.Sprintf("Unknown message type: %s", msg.Type), nil)
		}
	}
}

func (c *Client) handlePlan(msg server.Message) {
	payload, err := server.ParsePlanPayload(msg)
	if err != nil {
		c.SendError("Failed to parse plan request", err)
		return
	}

	err = c.plans.Start(context.Background(), func(ctx context.Context) {
		// Each plan gets its own fetcher so log forwarding stays per client
		fetcher := registry.NewFetcher(c.config.FetchTimeout)
		pipeline := server.NewPipeline(fetcher, c.config.Omit, c.metrics, c)

		if _, err := pipeline.Run(ctx, payload); err != nil {
			if errors.Is(err, context.Canceled) {
				c.SendLog("Plan cancelled", "warning")
			} else {
				c.SendError("Plan failed", err)
			}
			return
		}

		c.SendMessage(server.NewCompleteMessage(true, "Plan complete"))
	})
	if errors.Is(err, server.ErrPlanInProgress) {
		c.SendError("Plan already in progress", nil)
	}
}

func serveWs(cfg *config.Config, metrics *server.Metrics, w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLogger("ws")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := newClient(conn, cfg, metrics)

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.SetupLogger(0)
		startupLogger := logging.GetLogger("server")
		startupLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.SetupLogger(cfg.Verbosity)
	logger := logging.GetLogger("server")

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)

	// Health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	http.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(cfg, metrics, w, r)
	})

	logger.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
