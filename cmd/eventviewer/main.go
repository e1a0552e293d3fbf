// Command eventviewer consumes the invoice event topics from Kafka and
// streams them to a browser over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-invoice-service/internal/models"
	"voice-invoice-service/internal/observability/logging"
)

//go:embed static/*
var staticFiles embed.FS

// Event is one consumed message with a one-line summary for display.
type Event struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	Key       string          `json:"key"`
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// decodeEvent summarizes a published event. Unknown event types are passed
// through with an empty summary.
func decodeEvent(topic string, msg kafka.Message) (Event, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &head); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", topic, err)
	}
	ev := Event{
		Topic:     topic,
		EventType: head.EventType,
		Key:       string(msg.Key),
		Payload:   json.RawMessage(msg.Value),
	}

	switch head.EventType {
	case models.EventTranscriptFinal:
		var e models.TranscriptFinal
		if err := json.Unmarshal(msg.Value, &e); err == nil {
			ev.Summary = truncate(e.Text, 80)
		}
	case models.EventDraftResolved:
		var e models.DraftResolved
		if err := json.Unmarshal(msg.Value, &e); err == nil {
			ev.Summary = fmt.Sprintf("client %s, %d lines, total %.2f, finalizable %t",
				e.ClientStatus, len(e.LineStatuses), e.TotalAmount, e.Finalizable)
		}
	case models.EventInvoiceFinalized:
		var e models.InvoiceFinalized
		if err := json.Unmarshal(msg.Value, &e); err == nil {
			ev.Summary = fmt.Sprintf("client %s, %d lines, total %.2f",
				e.Invoice.ClientID, len(e.Invoice.Lines), e.Invoice.TotalAmount)
		}
	}
	return ev, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string) {
	// Partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from start")
	}
	log.Info().Str("topic", topic).Msg("Consuming topic (last hour)")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read failed")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeEvent(topic, msg)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed event")
			continue
		}
		log.Info().Str("eventType", ev.EventType).Str("key", ev.Key).Msg(ev.Summary)
		hub.broadcast <- ev
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topics := flag.String("topics", "invoice.dictation.transcripts,invoice.drafts,invoice.finalized", "Topics to consume (comma-separated)")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.RFC3339})

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, topic := range strings.Split(*topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			go consumeKafka(ctx, hub, *brokers, topic)
		}
	}

	staticFS, _ := fs.Sub(staticFiles, "static")
	http.Handle("/", http.FileServer(http.FS(staticFS)))
	http.HandleFunc("/ws", wsHandler(hub))

	log.Info().Str("url", "http://localhost:"+*port).Str("brokers", *brokers).Str("topics", *topics).Msg("Event viewer starting")
	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
