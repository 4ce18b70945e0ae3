package translation

import "time"

// Utterance is a transcribed teacher statement entering the fan-out path.
// It is transient; persistence is handled opportunistically elsewhere.
type Utterance struct {
	Text           string    `json:"text"`
	SourceLanguage string    `json:"sourceLanguage"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Latency is the per-utterance timing breakdown attached to every delivered
// translation. Values are milliseconds.
type Latency struct {
	Translation int64 `json:"translation"`
	Synthesis   int64 `json:"synthesis"`
	Total       int64 `json:"total"`
}

// Result is the outcome of translating and synthesizing one utterance for a
// single target language. It is always produced: on any upstream failure
// Text falls back to the original utterance and Audio stays an empty (never
// nil-meaningful) payload, so downstream code has one shape to handle.
type Result struct {
	OriginalText   string
	Text           string
	SourceLanguage string
	TargetLanguage string
	Audio          []byte
	ClientTTS      bool
	FromCache      bool
	Latency        Latency
}
