package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	napv1 "github.com/nupi-ai/nupi/api/nap/v1"
)

// mockSynthesizer records calls and returns canned audio.
type mockSynthesizer struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
	text  string
	voice Voice
}

func (m *mockSynthesizer) Synthesize(_ context.Context, text string, voice Voice) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.text = text
	m.voice = voice
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func (m *mockSynthesizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var defaultVoice = Voice{ID: "af_heart", Speed: 1.0}

// setup serves synth over bufconn and returns a connection to it.
func setup(t *testing.T, synth Synthesizer) *grpc.ClientConn {
	t.Helper()
	buf := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	napv1.RegisterTextToSpeechServiceServer(srv, NewService(synth, defaultVoice, slog.Default(), nil))
	go func() {
		if err := srv.Serve(buf); err != nil {
			t.Logf("server exited: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return buf.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return conn
}

func collect(t *testing.T, stream napv1.TextToSpeechService_StreamSynthesisClient) []*napv1.SynthesisResponse {
	t.Helper()
	var responses []*napv1.SynthesisResponse
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServiceStreamsChunks(t *testing.T) {
	pcm := make([]byte, 5000)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	conn := setup(t, &mockSynthesizer{data: pcm})
	client := napv1.NewTextToSpeechServiceClient(conn)

	stream, err := client.StreamSynthesis(context.Background(), &napv1.StreamSynthesisRequest{Text: "Hello there."})
	if err != nil {
		t.Fatalf("StreamSynthesis: %v", err)
	}
	responses := collect(t, stream)

	if len(responses) != 5 {
		t.Fatalf("got %d responses, want STARTED, PLAYING, 2 chunks, FINISHED", len(responses))
	}
	if responses[0].Status != napv1.SynthesisStatus_SYNTHESIS_STATUS_STARTED {
		t.Errorf("response[0] = %v, want STARTED", responses[0].Status)
	}
	if responses[1].Status != napv1.SynthesisStatus_SYNTHESIS_STATUS_PLAYING || responses[1].Chunk != nil {
		t.Errorf("response[1] should be a status-only PLAYING")
	}

	first, second := responses[2].Chunk, responses[3].Chunk
	if first == nil || second == nil {
		t.Fatal("expected two chunks")
	}
	if len(first.Data) != 4096 || !first.First || first.Last || first.DurationMs != 128 {
		t.Errorf("first chunk = len %d first %v last %v dur %d", len(first.Data), first.First, first.Last, first.DurationMs)
	}
	// 904 bytes / 2 = 452 samples = 28ms
	if len(second.Data) != 904 || !second.Last || second.Sequence != 2 || second.DurationMs != 28 {
		t.Errorf("second chunk = len %d last %v seq %d dur %d", len(second.Data), second.Last, second.Sequence, second.DurationMs)
	}

	last := responses[4]
	if last.Status != napv1.SynthesisStatus_SYNTHESIS_STATUS_FINISHED {
		t.Errorf("last = %v, want FINISHED", last.Status)
	}
	if last.Metadata["total_bytes"] != "5000" || last.Metadata["total_chunks"] != "2" {
		t.Errorf("finished metadata = %v", last.Metadata)
	}
}

func TestServiceEmptyText(t *testing.T) {
	mock := &mockSynthesizer{data: []byte("unused")}
	client := napv1.NewTextToSpeechServiceClient(setup(t, mock))

	stream, err := client.StreamSynthesis(context.Background(), &napv1.StreamSynthesisRequest{Text: "  "})
	if err != nil {
		t.Fatalf("StreamSynthesis: %v", err)
	}
	responses := collect(t, stream)
	if len(responses) == 0 || responses[0].Status != napv1.SynthesisStatus_SYNTHESIS_STATUS_ERROR {
		t.Fatalf("expected STATUS_ERROR, got %v", responses)
	}
	if mock.callCount() != 0 {
		t.Error("synthesizer should not be called for empty text")
	}
}

func TestNAPClientRoundTrip(t *testing.T) {
	pcm := make([]byte, 9000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	mock := &mockSynthesizer{data: pcm}
	client := NewNAPClient(setup(t, mock), slog.Default())

	ctx := WithSession(context.Background(), "session-1")
	got, err := client.Synthesize(ctx, "Say it.", Voice{ID: "am_adam", Speed: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got) != len(pcm) {
		t.Fatalf("got %d bytes, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
	if mock.text != "Say it." {
		t.Errorf("text = %q", mock.text)
	}
	if mock.voice != (Voice{ID: "am_adam", Speed: 1.25}) {
		t.Errorf("voice forwarded as %+v", mock.voice)
	}
}

func TestNAPClientDefaultVoice(t *testing.T) {
	mock := &mockSynthesizer{data: make([]byte, 10)}
	client := NewNAPClient(setup(t, mock), nil)

	if _, err := client.Synthesize(context.Background(), "Hello.", Voice{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mock.voice != defaultVoice {
		t.Errorf("voice = %+v, want service default %+v", mock.voice, defaultVoice)
	}
}

func TestNAPClientRemoteError(t *testing.T) {
	mock := &mockSynthesizer{err: errors.New("engine crashed")}
	client := NewNAPClient(setup(t, mock), nil)

	_, err := client.Synthesize(context.Background(), "Hello.", defaultVoice)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("err = %v, want ErrRemote", err)
	}
}

func TestNAPClientEmptyText(t *testing.T) {
	client := NewNAPClient(setup(t, &mockSynthesizer{}), nil)
	if _, err := client.Synthesize(context.Background(), "", defaultVoice); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestVoiceFromMetadata(t *testing.T) {
	cases := []struct {
		name string
		md   map[string]string
		want Voice
	}{
		{"defaults", nil, defaultVoice},
		{"voice override", map[string]string{MetadataVoiceID: "bf_emma"}, Voice{ID: "bf_emma", Speed: 1.0}},
		{"speed override", map[string]string{MetadataSpeed: "1.5"}, Voice{ID: "af_heart", Speed: 1.5}},
		{"bad speed ignored", map[string]string{MetadataSpeed: "fast"}, defaultVoice},
		{"negative speed ignored", map[string]string{MetadataSpeed: "-2"}, defaultVoice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := voiceFromMetadata(defaultVoice, tc.md); got != tc.want {
				t.Errorf("voiceFromMetadata = %+v, want %+v", got, tc.want)
			}
		})
	}
}
