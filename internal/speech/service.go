package speech

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/voice-talkback/internal/appinfo"
	"github.com/nupi-ai/voice-talkback/internal/telemetry"
)

// Service exposes a Synthesizer as a NAP TextToSpeechService so other NAP
// clients can share the talkback voice and its cache.
type Service struct {
	napv1.UnimplementedTextToSpeechServiceServer

	synth   Synthesizer
	voice   Voice
	log     *slog.Logger
	metrics *telemetry.Recorder
}

// NewService returns a Service speaking with the default voice unless the
// request metadata overrides it.
func NewService(synth Synthesizer, voice Voice, logger *slog.Logger, metrics *telemetry.Recorder) *Service {
	if synth == nil {
		panic("speech: service synthesizer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	return &Service{
		synth:   synth,
		voice:   voice,
		log:     logger.With("component", "tts_service", "voice_id", voice.ID),
		metrics: metrics,
	}
}

// StreamSynthesis synthesizes the request text and streams it back in chunks.
func (s *Service) StreamSynthesis(req *napv1.StreamSynthesisRequest, stream napv1.TextToSpeechService_StreamSynthesisServer) error {
	if req == nil {
		return fmt.Errorf("speech: request is nil")
	}

	voice := voiceFromMetadata(s.voice, req.Metadata)
	logEntry := s.log.With(
		"session_id", req.SessionId,
		"stream_id", req.StreamId,
		"text_length", len(req.Text),
	)

	if strings.TrimSpace(req.Text) == "" {
		logEntry.Warn("empty text in synthesis request")
		return s.sendError(stream, "text is required")
	}

	if err := s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_STARTED, nil); err != nil {
		return err
	}

	ctx := stream.Context()
	start := time.Now()
	pcm, err := s.synth.Synthesize(ctx, req.Text, voice)
	if err != nil {
		if ctx.Err() != nil {
			logEntry.Info("synthesis interrupted", "reason", ctx.Err())
			return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED, map[string]string{
				"reason": ctx.Err().Error(),
			})
		}
		logEntry.Error("synthesis failed", "error", err)
		return s.sendError(stream, fmt.Sprintf("synthesis failed: %v", err))
	}

	if err := s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_PLAYING, nil); err != nil {
		return err
	}

	chunkMeta := appinfo.SynthesisMetadata(voice.ID)
	var sequence uint64
	for offset := 0; offset < len(pcm); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED, map[string]string{
				"reason": err.Error(),
			})
		}

		end := min(offset+chunkSize, len(pcm))
		sequence++
		chunk := &napv1.AudioChunk{
			Data:       pcm[offset:end],
			Sequence:   sequence,
			First:      sequence == 1,
			Last:       end == len(pcm),
			DurationMs: uint32(Duration(pcm[offset:end]) / time.Millisecond),
			Metadata:   chunkMeta,
		}
		if err := stream.Send(&napv1.SynthesisResponse{
			Status: napv1.SynthesisStatus_SYNTHESIS_STATUS_PLAYING,
			Chunk:  chunk,
		}); err != nil {
			logEntry.Error("failed to send audio chunk", "error", err, "sequence", sequence)
			return err
		}
	}

	elapsed := time.Since(start)
	s.metrics.Event("synthesis served",
		"session_id", req.SessionId,
		"bytes", len(pcm),
		"chunks", sequence,
		"elapsed", elapsed,
	)

	return s.sendStatus(stream, napv1.SynthesisStatus_SYNTHESIS_STATUS_FINISHED, map[string]string{
		"total_bytes":  strconv.Itoa(len(pcm)),
		"total_chunks": strconv.FormatUint(sequence, 10),
		"duration_sec": fmt.Sprintf("%.2f", elapsed.Seconds()),
		"text_length":  strconv.Itoa(len(req.Text)),
	})
}

func (s *Service) sendStatus(stream napv1.TextToSpeechService_StreamSynthesisServer, status napv1.SynthesisStatus, metadata map[string]string) error {
	return stream.Send(&napv1.SynthesisResponse{
		Status:   status,
		Metadata: metadata,
	})
}

func (s *Service) sendError(stream napv1.TextToSpeechService_StreamSynthesisServer, message string) error {
	if err := stream.Send(&napv1.SynthesisResponse{
		Status:       napv1.SynthesisStatus_SYNTHESIS_STATUS_ERROR,
		ErrorMessage: message,
	}); err != nil {
		return err
	}
	return fmt.Errorf("synthesis error: %s", message)
}

func voiceFromMetadata(def Voice, metadata map[string]string) Voice {
	v := def
	if id := strings.TrimSpace(metadata[MetadataVoiceID]); id != "" {
		v.ID = id
	}
	if raw := strings.TrimSpace(metadata[MetadataSpeed]); raw != "" {
		if speed, err := strconv.ParseFloat(raw, 64); err == nil && speed > 0 {
			v.Speed = speed
		}
	}
	return v
}
