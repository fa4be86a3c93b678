// Command asrclient streams a 16-bit PCM WAV file to the ASR relay in real
// time and prints every event the relay sends back.
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meetmind-asr-relay/internal/models"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type wavInfo struct {
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/ws/asr", "Relay websocket URL")
	chunkMs := flag.Int("chunk-ms", 100, "Audio chunk duration in milliseconds")
	sendVAD := flag.Bool("vad", false, "Send vad-event start/end around the audio")
	realtime := flag.Bool("realtime", true, "Pace chunks at playback speed")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	info, err := readWAVHeader(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid WAV file")
	}
	log.Info().
		Uint16("channels", info.channels).
		Uint32("sampleRate", info.sampleRate).
		Uint16("bitsPerSample", info.bitsPerSample).
		Msg("WAV file")

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverURL).Msg("Connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(conn)
	}()

	start := time.Now()
	if *sendVAD {
		sendJSON(conn, map[string]any{"type": models.TypeVADEvent, "event": models.VADStart, "timestampMs": int64(0)})
	}

	chunkSize := int(info.sampleRate) * int(info.channels) * int(info.bitsPerSample/8) * *chunkMs / 1000
	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			chunkNum++
			totalBytes += int64(n)
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
				log.Fatal().Err(err).Msg("Failed to send audio")
			}
			if chunkNum%10 == 0 {
				log.Debug().Int("chunk", chunkNum).Int64("bytes", totalBytes).Msg("Sent audio")
			}
			if *realtime {
				time.Sleep(time.Duration(*chunkMs) * time.Millisecond)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
	}

	if *sendVAD {
		sendJSON(conn, map[string]any{"type": models.TypeVADEvent, "event": models.VADEnd, "timestampMs": time.Since(start).Milliseconds()})
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(start)).
		Msg("Finished streaming, waiting for final transcripts")
	sendJSON(conn, map[string]string{"action": models.ActionStop})

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for the relay to close")
	}
}

func readWAVHeader(r io.Reader) (wavInfo, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wavInfo{}, fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("not a RIFF/WAVE file")
	}
	if format := binary.LittleEndian.Uint16(header[20:22]); format != 1 {
		return wavInfo{}, fmt.Errorf("unsupported audio format %d, only PCM", format)
	}
	info := wavInfo{
		channels:      binary.LittleEndian.Uint16(header[22:24]),
		sampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		bitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if info.bitsPerSample != 16 {
		return wavInfo{}, fmt.Errorf("unsupported sample width %d, only 16-bit", info.bitsPerSample)
	}
	if info.channels == 0 || info.sampleRate == 0 {
		return wavInfo{}, errors.New("header reports no channels or sample rate")
	}
	return info, nil
}

func sendJSON(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		log.Error().Err(err).Msg("Failed to send control message")
	}
}

func printEvents(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Connection ended")
			}
			return
		}

		var ev models.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Str("raw", string(data)).Msg("Unparseable event")
			continue
		}

		switch ev.Event {
		case models.EventInterim:
			log.Info().Str("text", ev.Text).Msg("interim")
		case models.EventResult:
			if ev.Sentence != nil {
				log.Info().
					Str("id", ev.Sentence.ID).
					Int64("beginMs", ev.Sentence.BeginTime).
					Int64("endMs", ev.Sentence.EndTime).
					Str("text", ev.Sentence.Text).
					Msg("result")
			}
		case models.EventError:
			log.Error().Str("error", ev.Error).Msg("relay error")
		default:
			e := log.Info()
			if ev.Code != nil {
				e = e.Int("code", *ev.Code)
			}
			e.Msg(ev.Event)
		}
	}
}
