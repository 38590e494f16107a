package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"

	"github.com/nupi-ai/voice-talkback/internal/appinfo"
)

// Request metadata keys understood by Service.
const (
	MetadataVoiceID = "voice_id"
	MetadataSpeed   = "speed"
)

type sessionKey struct{}

// WithSession tags ctx with the conversation session id forwarded to remote
// synthesizers.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// NAPClient synthesizes through a remote NAP TextToSpeechService and collects
// the streamed chunks into one clip.
type NAPClient struct {
	client napv1.TextToSpeechServiceClient
	conn   *grpc.ClientConn
	log    *slog.Logger
}

// DialNAP connects to a NAP text-to-speech service at addr.
func DialNAP(addr string, logger *slog.Logger) (*NAPClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("speech: dial nap %s: %w", addr, err)
	}
	c := NewNAPClient(conn, logger)
	c.conn = conn
	return c, nil
}

// NewNAPClient uses an existing connection. The caller keeps ownership of cc.
func NewNAPClient(cc grpc.ClientConnInterface, logger *slog.Logger) *NAPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &NAPClient{
		client: napv1.NewTextToSpeechServiceClient(cc),
		log:    logger.With("component", "nap_client"),
	}
}

// Close releases a connection opened by DialNAP.
func (c *NAPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *NAPClient) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metadata := appinfo.RequestMetadata()
	if voice.ID != "" {
		metadata[MetadataVoiceID] = voice.ID
	}
	if voice.Speed > 0 {
		metadata[MetadataSpeed] = strconv.FormatFloat(voice.Speed, 'f', -1, 64)
	}

	req := &napv1.StreamSynthesisRequest{
		SessionId: sessionFrom(ctx),
		StreamId:  uuid.Must(uuid.NewV7()).String(),
		Text:      text,
		Metadata:  metadata,
	}
	logEntry := c.log.With("session_id", req.SessionId, "stream_id", req.StreamId)

	start := time.Now()
	stream, err := c.client.StreamSynthesis(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech: open nap stream: %w", err)
	}

	var (
		pcm    []byte
		chunks int
	)
recv:
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("speech: nap stream: %w", err)
		}

		switch resp.Status {
		case napv1.SynthesisStatus_SYNTHESIS_STATUS_ERROR:
			return nil, fmt.Errorf("%w: %s", ErrRemote, resp.ErrorMessage)
		case napv1.SynthesisStatus_SYNTHESIS_STATUS_INTERRUPTED:
			return nil, ErrInterrupted
		}
		if resp.Chunk != nil && len(resp.Chunk.Data) > 0 {
			pcm = append(pcm, resp.Chunk.Data...)
			chunks++
		}
		if resp.Status == napv1.SynthesisStatus_SYNTHESIS_STATUS_FINISHED {
			break recv
		}
	}

	logEntry.Debug("nap synthesis completed",
		"bytes", len(pcm),
		"chunks", chunks,
		"elapsed", time.Since(start),
	)
	return pcm, nil
}
