package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mliang/classcast/backend/internal/config"
	"github.com/mliang/classcast/backend/internal/model/live"
	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
	"github.com/mliang/classcast/backend/internal/model/translation"
	"github.com/mliang/classcast/backend/internal/service/registry"
	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/internal/service/translate"
	"github.com/mliang/classcast/backend/internal/service/ttscache"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames []any
}

func (t *fakeTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, v)
	return nil
}

func (t *fakeTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (t *fakeTransport) Close() error                              { return nil }

func (t *fakeTransport) translations() []*TranslationFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*TranslationFrame
	for _, f := range t.frames {
		if tf, ok := f.(*TranslationFrame); ok {
			out = append(out, tf)
		}
	}
	return out
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[target]++
	if err := f.fail[target]; err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

func (f *fakeTranslator) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: []byte("audio:" + req.Text),
		Format:    "mp3",
	}, nil
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testSetup struct {
	registry   *registry.Registry
	engine     *Engine
	translator *fakeTranslator
	synth      *fakeSynthesizer
	teacher    *registry.Client
}

func newTestEngine(t *testing.T, synth speech.Synthesizer) *testSetup {
	t.Helper()

	cache, err := ttscache.New(t.TempDir(), time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("cache init: %v", err)
	}

	reg := registry.New()
	translator := newFakeTranslator()
	fs, _ := synth.(*fakeSynthesizer)
	if synth == nil {
		fs = &fakeSynthesizer{}
		synth = fs
	}

	engine := New(
		reg, translator, synth, cache, speech.DefaultCatalog(), nil,
		config.SpeechConfig{Speed: 1.0, SpeedMin: 0.6, SpeedMax: 1.5},
		config.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
		zerolog.Nop(),
	)

	teacher := registry.NewClient(&fakeTransport{}, 30)
	reg.Add(teacher)
	reg.SetRole(teacher.ID(), live.RoleTeacher)
	reg.SetLanguage(teacher.ID(), "zh-CN")

	return &testSetup{registry: reg, engine: engine, translator: translator, synth: fs, teacher: teacher}
}

func (s *testSetup) addStudent(language string) *fakeTransport {
	transport := &fakeTransport{}
	c := registry.NewClient(transport, 30)
	s.registry.Add(c)
	s.registry.SetRole(c.ID(), live.RoleStudent)
	s.registry.SetLanguage(c.ID(), language)
	return transport
}

func utterance(text string) translation.Utterance {
	return translation.Utterance{Text: text, SourceLanguage: "zh-CN", ReceivedAt: time.Now()}
}

func TestBroadcastTranslatesOncePerLanguage(t *testing.T) {
	s := newTestEngine(t, nil)
	fr1 := s.addStudent("fr-FR")
	fr2 := s.addStudent("fr-FR")
	es := s.addStudent("es-ES")

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("大家好")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if got := s.translator.callCount("fr-FR"); got != 1 {
		t.Fatalf("fr-FR translated %d times, want 1", got)
	}
	if got := s.translator.callCount("es-ES"); got != 1 {
		t.Fatalf("es-ES translated %d times, want 1", got)
	}

	for name, transport := range map[string]*fakeTransport{"fr1": fr1, "fr2": fr2, "es": es} {
		frames := transport.translations()
		if len(frames) != 1 {
			t.Fatalf("student %s received %d frames, want 1", name, len(frames))
		}
		if frames[0].OriginalText != "大家好" {
			t.Fatalf("student %s original text: %q", name, frames[0].OriginalText)
		}
		if len(frames[0].Audio) == 0 {
			t.Fatalf("student %s received no audio", name)
		}
	}

	if got := fr1.translations()[0].Text; got != "[fr-FR] 大家好" {
		t.Fatalf("fr student got %q", got)
	}
	if got := es.translations()[0].Text; got != "[es-ES] 大家好" {
		t.Fatalf("es student got %q", got)
	}
}

func TestBroadcastRejectsNonTeacher(t *testing.T) {
	s := newTestEngine(t, nil)
	student := registry.NewClient(&fakeTransport{}, 30)
	s.registry.Add(student)
	s.registry.SetRole(student.ID(), live.RoleStudent)
	s.registry.SetLanguage(student.ID(), "fr-FR")

	if err := s.engine.Broadcast(context.Background(), student, utterance("hello")); err == nil {
		t.Fatal("expected error for student broadcast")
	}
	if got := s.translator.callCount("fr-FR"); got != 0 {
		t.Fatalf("translator called %d times for rejected broadcast", got)
	}
}

func TestBroadcastEmptyTextIsNoOp(t *testing.T) {
	s := newTestEngine(t, nil)
	fr := s.addStudent("fr-FR")

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("   ")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if frames := fr.translations(); len(frames) != 0 {
		t.Fatalf("expected no frames for blank utterance, got %d", len(frames))
	}
}

func TestBroadcastLanguageFailureIsIsolated(t *testing.T) {
	s := newTestEngine(t, nil)
	fr := s.addStudent("fr-FR")
	es := s.addStudent("es-ES")

	// 永久性错误不重试
	s.translator.fail["fr-FR"] = &translate.StatusError{Status: 400, Message: "unsupported pair"}

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("下课")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	frFrames := fr.translations()
	if len(frFrames) != 1 {
		t.Fatalf("fr student received %d frames, want 1", len(frFrames))
	}
	if frFrames[0].Text != "下课" {
		t.Fatalf("expected fallback to original text, got %q", frFrames[0].Text)
	}
	if len(frFrames[0].Audio) != 0 {
		t.Fatal("fallback frame should carry no audio")
	}

	esFrames := es.translations()
	if len(esFrames) != 1 || esFrames[0].Text != "[es-ES] 下课" {
		t.Fatalf("es student should be unaffected, got %+v", esFrames)
	}
}

func TestBroadcastSynthesisFailureKeepsText(t *testing.T) {
	synth := &fakeSynthesizer{err: fmt.Errorf("upstream closed")}
	s := newTestEngine(t, synth)
	fr := s.addStudent("fr-FR")

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("慢一点")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	frames := fr.translations()
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want 1", len(frames))
	}
	if frames[0].Text != "[fr-FR] 慢一点" {
		t.Fatalf("translated text should survive synthesis failure, got %q", frames[0].Text)
	}
	if len(frames[0].Audio) != 0 {
		t.Fatal("audio should be empty after synthesis failure")
	}
}

func TestBroadcastSecondUtteranceHitsCache(t *testing.T) {
	s := newTestEngine(t, nil)
	fr := s.addStudent("fr-FR")

	utt := utterance("打开课本")
	if err := s.engine.Broadcast(context.Background(), s.teacher, utt); err != nil {
		t.Fatalf("first Broadcast failed: %v", err)
	}
	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("打开课本")); err != nil {
		t.Fatalf("second Broadcast failed: %v", err)
	}

	if got := s.translator.callCount("fr-FR"); got != 1 {
		t.Fatalf("translator called %d times, cache should absorb the repeat", got)
	}
	if got := s.synth.callCount(); got != 1 {
		t.Fatalf("synthesizer called %d times, cache should absorb the repeat", got)
	}

	frames := fr.translations()
	if len(frames) != 2 {
		t.Fatalf("received %d frames, want 2", len(frames))
	}
	if frames[0].FromCache {
		t.Fatal("first frame should not be from cache")
	}
	if !frames[1].FromCache {
		t.Fatal("second frame should be served from cache")
	}
	if frames[1].Text != frames[0].Text || string(frames[1].Audio) != string(frames[0].Audio) {
		t.Fatal("cached frame should match the original")
	}
}

func TestBroadcastClientSynthesisOmitsAudio(t *testing.T) {
	s := newTestEngine(t, speech.NewClientSynthesizer())
	fr := s.addStudent("fr-FR")

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("请安静")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("请安静")); err != nil {
		t.Fatalf("second Broadcast failed: %v", err)
	}

	frames := fr.translations()
	if len(frames) != 2 {
		t.Fatalf("received %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if !f.ClientTTS {
			t.Fatalf("frame %d should flag client synthesis", i)
		}
		if len(f.Audio) != 0 {
			t.Fatalf("frame %d should not carry a sentinel payload", i)
		}
	}
	// 哨兵不落缓存，第二次仍然走翻译
	if got := s.translator.callCount("fr-FR"); got != 2 {
		t.Fatalf("translator called %d times, sentinel must not be cached", got)
	}
}

func TestFallbackFrameAlwaysCarriesAudioField(t *testing.T) {
	s := newTestEngine(t, nil)
	fr := s.addStudent("fr-FR")

	s.translator.fail["fr-FR"] = &translate.StatusError{Status: 400, Message: "unsupported pair"}

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("下课")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	frames := fr.translations()
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want 1", len(frames))
	}

	// 序列化后audio字段必须存在且为空串，不能是null或缺失
	raw, err := json.Marshal(frames[0])
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	audio, ok := wire["audio"]
	if !ok {
		t.Fatalf("audio field absent from fallback frame: %s", raw)
	}
	if string(audio) != `""` {
		t.Fatalf("audio field should be an empty payload, got %s", audio)
	}
}

func TestDeliverySkipsUnregisteredConnections(t *testing.T) {
	s := newTestEngine(t, nil)
	fr := s.addStudent("fr-FR")

	// 语言来自查询参数预置，但从未以学生身份register
	lurker := &fakeTransport{}
	c := registry.NewClient(lurker, 30)
	s.registry.Add(c)
	s.registry.SetLanguage(c.ID(), "fr-FR")

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("翻到第十页")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if frames := fr.translations(); len(frames) != 1 {
		t.Fatalf("student received %d frames, want 1", len(frames))
	}
	if frames := lurker.translations(); len(frames) != 0 {
		t.Fatalf("unregistered connection received %d frames", len(frames))
	}
}

func TestBroadcastSkipsStudentsWithoutLanguage(t *testing.T) {
	s := newTestEngine(t, nil)
	transport := &fakeTransport{}
	c := registry.NewClient(transport, 30)
	s.registry.Add(c)
	s.registry.SetRole(c.ID(), live.RoleStudent)
	// 未声明语言

	if err := s.engine.Broadcast(context.Background(), s.teacher, utterance("开始上课")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if frames := transport.translations(); len(frames) != 0 {
		t.Fatalf("student without language received %d frames", len(frames))
	}
}
