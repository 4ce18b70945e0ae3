package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mliang/classcast/backend/internal/analysis/emotion"
	"github.com/mliang/classcast/backend/internal/config"
	"github.com/mliang/classcast/backend/internal/model/live"
	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
	"github.com/mliang/classcast/backend/internal/model/translation"
	"github.com/mliang/classcast/backend/internal/service/registry"
	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/internal/service/translate"
	"github.com/mliang/classcast/backend/internal/service/ttscache"
)

// Recorder 可选的持久化钩子，失败只记录日志，不影响广播。
type Recorder interface {
	RecordTranslation(ctx context.Context, sessionID string, result translation.Result) error
}

// Engine 将一条教师发言扇出为每种学生语言的翻译与合成音频。
// 每种语言只处理一次，互相隔离：单个语言的失败不影响其它语言。
type Engine struct {
	registry   *registry.Registry
	translator translate.Translator
	synth      speech.Synthesizer
	cache      *ttscache.Cache
	catalog    *speech.Catalog
	recorder   Recorder
	retry      *retrier
	speechCfg  config.SpeechConfig
	log        zerolog.Logger
}

// New 创建扇出引擎。recorder可以为nil。
func New(
	reg *registry.Registry,
	translator translate.Translator,
	synth speech.Synthesizer,
	cache *ttscache.Cache,
	catalog *speech.Catalog,
	recorder Recorder,
	speechCfg config.SpeechConfig,
	retryCfg config.RetryConfig,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		registry:   reg,
		translator: translator,
		synth:      synth,
		cache:      cache,
		catalog:    catalog,
		recorder:   recorder,
		retry:      newRetrier(retryCfg.MaxRetries, retryCfg.BaseDelay),
		speechCfg:  speechCfg,
		log:        log.With().Str("component", "fanout").Logger(),
	}
}

// cacheEnvelope 缓存条目同时保存译文与音频，命中时两者都省掉
type cacheEnvelope struct {
	Text  string `json:"text"`
	Audio []byte `json:"audio"`
}

// TranslationFrame 推送给学生端的翻译消息
type TranslationFrame struct {
	Type           string              `json:"type"`
	SessionID      string              `json:"sessionId"`
	OriginalText   string              `json:"originalText"`
	Text           string              `json:"text"`
	SourceLanguage string              `json:"sourceLanguage"`
	TargetLanguage string              `json:"targetLanguage"`
	Audio          []byte              `json:"audio"`
	ClientTTS      bool                `json:"clientTTS,omitempty"`
	FromCache      bool                `json:"fromCache,omitempty"`
	Latency        translation.Latency `json:"latency"`
	Timestamp      int64               `json:"timestamp"`
}

// Broadcast 处理一条教师发言：按学生声明的语言去重后，
// 每种语言翻译、合成一次，再把个性化消息发给对应学生。
// 所有语言处理完成后返回。
func (e *Engine) Broadcast(ctx context.Context, sender *registry.Client, utt translation.Utterance) error {
	if sender == nil || sender.Role() != live.RoleTeacher {
		return fmt.Errorf("only teacher connections can broadcast utterances")
	}
	if strings.TrimSpace(utt.Text) == "" {
		return nil
	}
	if utt.ReceivedAt.IsZero() {
		utt.ReceivedAt = time.Now()
	}

	languages := e.targetLanguages()
	if len(languages) == 0 {
		e.log.Debug().Msg("no student languages declared, skipping broadcast")
		return nil
	}

	var wg sync.WaitGroup
	for _, lang := range languages {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Interface("panic", r).Str("language", lang).Msg("language pipeline panicked")
				}
			}()

			res := e.resultFor(ctx, sender.SessionID(), utt, lang)
			e.deliver(sender.SessionID(), lang, res)
			e.record(ctx, sender.SessionID(), res)
		}(lang)
	}
	wg.Wait()
	return nil
}

// targetLanguages 收集学生声明的语言并去重
func (e *Engine) targetLanguages() []string {
	seen := make(map[string]struct{})
	var languages []string
	for _, c := range e.registry.Snapshot() {
		if c.Role() != live.RoleStudent {
			continue
		}
		lang := c.Language()
		if lang == "" {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		languages = append(languages, lang)
	}
	return languages
}

// resultFor 为单个目标语言产出结果。任一环节失败都降级而不缺席：
// 翻译失败回退到原文，合成失败只省掉音频。
func (e *Engine) resultFor(ctx context.Context, sessionID string, utt translation.Utterance, lang string) translation.Result {
	res := translation.Result{
		OriginalText:   utt.Text,
		SourceLanguage: utt.SourceLanguage,
		TargetLanguage: lang,
	}

	// 情绪参数从原文推导，使缓存键在翻译前即可确定
	style := emotion.StyleFor(utt.Text, e.speechCfg.SpeedMin, e.speechCfg.SpeedMax)
	voice := e.catalog.Resolve(lang, string(style.Category))
	speed := e.speechCfg.Speed * style.SpeedMultiplier

	key := ttscache.Key(utt.Text, lang, voice, speed, string(style.Category))
	if data, ok := e.cache.Get(key); ok {
		var env cacheEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.Text != "" {
			res.Text = env.Text
			res.Audio = env.Audio
			res.ClientTTS = speech.IsClientSentinel(env.Audio)
			res.FromCache = true
			res.Latency.Total = time.Since(utt.ReceivedAt).Milliseconds()
			return res
		}
		// 旧格式或损坏的条目当作未命中
	}

	translateStart := time.Now()
	translated, err := e.retry.do(ctx, func() (string, error) {
		return e.translator.Translate(ctx, utt.Text, utt.SourceLanguage, lang)
	})
	res.Latency.Translation = time.Since(translateStart).Milliseconds()
	if err != nil {
		e.log.Warn().Err(err).Str("language", lang).Msg("translation failed, falling back to original text")
		res.Text = utt.Text
		res.Latency.Total = time.Since(utt.ReceivedAt).Milliseconds()
		return res
	}
	res.Text = translated

	speechText := translated
	if translated == utt.Text {
		// 源语言与目标语言一致时直接朗读带情绪标记的原文
		speechText = style.Text
	}

	synthStart := time.Now()
	resp, err := e.synth.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      speechText,
		Voice:     voice,
		Speed:     speed,
		Language:  lang,
		Format:    "mp3",
		Emotion:   string(style.Category),
	})
	res.Latency.Synthesis = time.Since(synthStart).Milliseconds()
	if err != nil {
		e.log.Warn().Err(err).Str("language", lang).Msg("synthesis failed, delivering text only")
		res.Latency.Total = time.Since(utt.ReceivedAt).Milliseconds()
		return res
	}

	res.Audio = resp.AudioData
	res.ClientTTS = speech.IsClientSentinel(resp.AudioData)
	res.Latency.Total = time.Since(utt.ReceivedAt).Milliseconds()

	// 客户端合成的哨兵不落盘，真实音频连同译文一起缓存
	if !res.ClientTTS {
		if env, merr := json.Marshal(cacheEnvelope{Text: res.Text, Audio: res.Audio}); merr == nil {
			e.cache.Put(key, env)
		}
	}

	return res
}

// deliver 把结果发给声明了该语言的每个学生，单个发送失败不影响其他人
func (e *Engine) deliver(sessionID, lang string, res translation.Result) {
	frame := &TranslationFrame{
		Type:           "translation",
		SessionID:      sessionID,
		OriginalText:   res.OriginalText,
		Text:           res.Text,
		SourceLanguage: res.SourceLanguage,
		TargetLanguage: res.TargetLanguage,
		Audio:          res.Audio,
		ClientTTS:      res.ClientTTS,
		FromCache:      res.FromCache,
		Latency:        res.Latency,
		Timestamp:      time.Now().UnixMilli(),
	}
	if res.ClientTTS {
		// 哨兵载荷不下发，客户端按文本自行合成
		frame.Audio = nil
	}
	if frame.Audio == nil {
		// audio字段始终出现在消息里，无音频时序列化为空串而不是null
		frame.Audio = []byte{}
	}

	for _, c := range e.registry.AllByLanguage(lang, live.RoleStudent) {
		if err := c.Send(frame); err != nil {
			e.log.Warn().Err(err).Str("client", c.ID()).Str("language", lang).Msg("failed to deliver translation")
		}
	}
}

func (e *Engine) record(ctx context.Context, sessionID string, res translation.Result) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordTranslation(ctx, sessionID, res); err != nil {
		e.log.Warn().Err(err).Msg("failed to persist translation record")
	}
}
