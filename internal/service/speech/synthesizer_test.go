package speech

import (
	"context"
	"testing"

	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
)

func TestClientSentinelRoundTrip(t *testing.T) {
	s := NewClientSynthesizer()

	resp, err := s.Synthesize(context.Background(), &speechmodel.TTSRequest{
		SessionID: "sess_1",
		Text:      "bonjour",
		Language:  "fr-FR",
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if !IsClientSentinel(resp.AudioData) {
		t.Fatalf("expected sentinel payload, got %s", resp.AudioData)
	}
	if resp.Format != "client" {
		t.Fatalf("expected client format, got %q", resp.Format)
	}
}

func TestIsClientSentinelRejectsRealAudio(t *testing.T) {
	if IsClientSentinel([]byte{0xFF, 0xFB, 0x90, 0x00}) {
		t.Fatal("mp3 frame misidentified as sentinel")
	}
	if IsClientSentinel(nil) {
		t.Fatal("nil payload misidentified as sentinel")
	}
}
