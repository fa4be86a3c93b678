// Command transcriptviewer consumes the relay's transcript topics from Kafka
// and streams them to websocket viewers, optionally filtered by session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"meetmind-asr-relay/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		v := &viewer{conn: conn, session: r.URL.Query().Get("session")}
		hub.Register(v)

		// Viewers only listen; reading detects disconnects.
		go func() {
			defer hub.Unregister(v)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic, group string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	log.Info().Str("topic", topic).Str("group", group).Msg("Consuming transcript topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeTranscript(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Undecodable transcript")
			continue
		}

		log.Debug().
			Str("eventType", ev.EventType).
			Str("sessionId", ev.SessionID).
			Str("text", truncate(ev.Text, 40)).
			Msg("Received transcript")
		hub.Broadcast(ev)
	}
}

// decodeTranscript reads either transcript kind. Partial events leave the
// sentence fields empty.
func decodeTranscript(data []byte) (models.TranscriptFinal, error) {
	var ev models.TranscriptFinal
	err := json.Unmarshal(data, &ev)
	return ev, err
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "asr.transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "asr.transcript.final", "Final transcript topic")
	group := flag.String("group", "transcript-viewer", "Kafka consumer group")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	hub := NewHub()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicPartial, *group)
	go consumeKafka(ctx, hub, brokerList, *topicFinal, *group)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		hub.CloseAll()
	}()

	log.Info().
		Str("addr", server.Addr).
		Strs("brokers", brokerList).
		Str("topicPartial", *topicPartial).
		Str("topicFinal", *topicFinal).
		Msg("Transcript viewer starting, connect to /ws?session=<id>")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
