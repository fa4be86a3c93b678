// Package google provides a Google Cloud Speech-to-Text adapter.
//
// Google streams protobuf responses instead of realtime JSON events, so the
// adapter synthesizes upstream events from them. Final results carry
// begin_time/end_time in milliseconds for the timestamp reconciler.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meetmind-asr-relay/internal/fields"
	"meetmind-asr-relay/internal/service/stt"
	"meetmind-asr-relay/internal/upstream"
)

// Config holds Google Speech-to-Text settings.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	AudioEncoding   string
	CredentialsFile string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// recognizeStream is the part of Speech_StreamingRecognizeClient the adapter uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// openFunc creates a client and opens a streaming recognize call on streamCtx.
type openFunc func(ctx, streamCtx context.Context, cfg Config) (io.Closer, recognizeStream, error)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
	open   openFunc

	mu     sync.Mutex // guards client, stream and cancel against closed
	client io.Closer
	stream recognizeStream
	cancel context.CancelFunc

	sendMu sync.Mutex
	closed atomic.Bool
}

// New creates a Google STT adapter. The client is created on Dial.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger, open: openStream}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return "google"
}

// Dial creates the Speech client and opens a streaming recognize call.
// Credentials come from CredentialsFile when set, otherwise from
// GOOGLE_APPLICATION_CREDENTIALS.
func (a *Adapter) Dial(ctx context.Context) error {
	// The stream outlives the dial context.
	streamCtx, cancel := context.WithCancel(context.Background())
	client, stream, err := a.open(ctx, streamCtx, a.cfg)
	if err != nil {
		cancel()
		return err
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		cancel()
		_ = client.Close()
		return stt.ErrAdapterClosed
	}
	a.client = client
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()
	return nil
}

func openStream(ctx, streamCtx context.Context, cfg Config) (io.Closer, recognizeStream, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, stream, nil
}

// Start sends the streaming config, then begins listening. Google has no
// configuration acknowledgment, so a synthetic session.updated is delivered
// first.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream := a.recognizer()
	if stream == nil {
		return errors.New("start before dial")
	}

	err := a.send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return err
	}

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Commit half-closes the stream; Google then finalizes and ends it.
func (a *Adapter) Commit(ctx context.Context) error {
	stream := a.recognizer()
	if a.closed.Load() || stream == nil {
		return stt.ErrAdapterClosed
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return stream.CloseSend()
}

// Close cancels the stream and releases the client. A Dial still in flight
// releases what it opens once it sees the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	cancel, client := a.cancel, a.client
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (a *Adapter) recognizer() recognizeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

func (a *Adapter) send(req *speechpb.StreamingRecognizeRequest) error {
	stream := a.recognizer()
	if a.closed.Load() || stream == nil {
		return stt.ErrAdapterClosed
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return stream.Send(req)
}

func (a *Adapter) listen(stream recognizeStream, cb stt.Callback) {
	cb.OnEvent(upstream.New(upstream.TypeSessionUpdated, fields.Object{"type": upstream.TypeSessionUpdated}))

	var lastEnd int64
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || a.closed.Load() || status.Code(err) == codes.Canceled {
				cb.OnEvent(upstream.New(upstream.TypeSessionFinished, fields.Object{"type": upstream.TypeSessionFinished}))
				cb.OnClosed(stt.CloseNormal, nil)
				return
			}
			a.logger.Warn().Err(err).Msg("Google stream ended with error")
			cb.OnClosed(stt.CloseAbnormal, err)
			return
		}

		if resp.Error != nil && resp.Error.Code != 0 {
			cb.OnEvent(upstream.New(upstream.TypeError, fields.Object{
				"type":  upstream.TypeError,
				"error": map[string]any{"message": resp.Error.Message},
			}))
			continue
		}

		var events []upstream.Event
		events, lastEnd = responseEvents(resp, lastEnd)
		for _, ev := range events {
			cb.OnEvent(ev)
		}
	}
}

// responseEvents maps one streaming response to upstream events. Final
// results span from the previous final's end to their reported end time.
func responseEvents(resp *speechpb.StreamingRecognizeResponse, lastEnd int64) ([]upstream.Event, int64) {
	var events []upstream.Event
	for _, r := range resp.GetResults() {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]

		if !r.IsFinal {
			events = append(events, upstream.New(upstream.TypeTranscriptionDelta, fields.Object{
				"type": upstream.TypeTranscriptionDelta,
				"text": alt.Transcript,
			}))
			continue
		}

		obj := fields.Object{
			"type":       upstream.TypeTranscriptionCompleted,
			"transcript": alt.Transcript,
			"confidence": float64(alt.Confidence),
		}
		if r.ResultEndTime != nil {
			end := r.ResultEndTime.AsDuration().Milliseconds()
			obj["begin_time"] = lastEnd
			obj["end_time"] = end
			lastEnd = end
		}
		events = append(events, upstream.New(upstream.TypeTranscriptionCompleted, obj))
	}
	return events, lastEnd
}

func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
