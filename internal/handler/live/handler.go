package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mliang/classcast/backend/internal/analysis/emotion"
	"github.com/mliang/classcast/backend/internal/config"
	livemodel "github.com/mliang/classcast/backend/internal/model/live"
	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
	"github.com/mliang/classcast/backend/internal/model/translation"
	"github.com/mliang/classcast/backend/internal/service/fanout"
	"github.com/mliang/classcast/backend/internal/service/registry"
	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/internal/store"
)

// maxFrameBytes 限制单帧大小，防止异常客户端占满内存
const maxFrameBytes = 512 * 1024

// frame 是入站消息的统一形状，按type分发后各处理器只取自己关心的字段
type frame struct {
	Type      string         `json:"type"`
	Role      string         `json:"role,omitempty"`
	Language  string         `json:"language,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
	Text      string         `json:"text,omitempty"`
	Voice     string         `json:"voice,omitempty"`
	Speed     float32        `json:"speed,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

type frameHandler func(ctx context.Context, c *registry.Client, f *frame)

// Handler 管理live WebSocket连接：升级、注册、逐帧分发、清理。
type Handler struct {
	registry  *registry.Registry
	engine    *fanout.Engine
	synth     speech.Synthesizer
	catalog   *speech.Catalog
	speechCfg config.SpeechConfig
	limitCfg  config.LimitConfig
	store     *store.Store
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	routes    map[string]frameHandler
}

// New 创建live处理器。st可以为nil，此时不做持久化。
func New(
	reg *registry.Registry,
	engine *fanout.Engine,
	synth speech.Synthesizer,
	catalog *speech.Catalog,
	speechCfg config.SpeechConfig,
	limitCfg config.LimitConfig,
	st *store.Store,
	log zerolog.Logger,
) *Handler {
	h := &Handler{
		registry:  reg,
		engine:    engine,
		synth:     synth,
		catalog:   catalog,
		speechCfg: speechCfg,
		limitCfg:  limitCfg,
		store:     st,
		log:       log.With().Str("component", "live").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 跨域校验交给部署层
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.routes = map[string]frameHandler{
		"register":      h.handleRegister,
		"transcription": h.handleTranscription,
		"audio":         h.handleAudio,
		"tts_request":   h.handleTTSRequest,
		"settings":      h.handleSettings,
		"ping":          h.handlePing,
		"pong":          func(context.Context, *registry.Client, *frame) {},
	}
	return h
}

// Serve 升级HTTP连接并进入读循环，连接关闭时清理注册表
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := registry.NewClient(conn, h.limitCfg.TTSRequestsPerMinute)
	h.registry.Add(client)

	conn.SetReadLimit(maxFrameBytes)
	conn.SetPongHandler(func(string) error {
		client.MarkAlive()
		return nil
	})

	// 查询参数可以在register帧之前预置角色和语言
	if role := livemodel.ParseRole(r.URL.Query().Get("role")); role != livemodel.RoleUnknown {
		h.registry.SetRole(client.ID(), role)
	}
	if lang := strings.TrimSpace(r.URL.Query().Get("language")); lang != "" {
		h.registry.SetLanguage(client.ID(), lang)
	}

	if err := client.Send(map[string]any{
		"type":      "connection",
		"sessionId": client.SessionID(),
		"timestamp": time.Now().UnixMilli(),
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to send connection confirmation")
	}

	if h.store != nil {
		if err := h.store.CreateSession(r.Context(), client.SessionID(), string(client.Role()), client.Language()); err != nil {
			h.log.Warn().Err(err).Msg("failed to persist session start")
		}
	}

	h.log.Info().
		Str("client", client.ID()).
		Str("session", client.SessionID()).
		Str("role", string(client.Role())).
		Msg("client connected")

	defer func() {
		h.registry.Remove(client.ID())
		_ = client.Close()
		if h.store != nil {
			if err := h.store.EndSession(context.Background(), client.SessionID()); err != nil {
				h.log.Warn().Err(err).Msg("failed to persist session end")
			}
		}
		h.log.Info().Str("client", client.ID()).Msg("client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("client", client.ID()).Msg("read failed")
			}
			return
		}
		h.dispatch(r.Context(), client, data)
	}
}

// dispatch 解析一帧并路由。解析失败或处理器panic都只记录日志，
// 连接保持打开，错帧不影响后续帧。
func (h *Handler) dispatch(ctx context.Context, c *registry.Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("client", c.ID()).Msg("frame handler panicked")
		}
	}()

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		h.log.Warn().Err(err).Str("client", c.ID()).Msg("malformed frame")
		return
	}

	handler, ok := h.routes[f.Type]
	if !ok {
		h.log.Debug().Str("type", f.Type).Str("client", c.ID()).Msg("unrecognized frame type")
		return
	}
	handler(ctx, c, &f)
}

// handleRegister 更新角色、语言和设置，并回显生效后的状态
func (h *Handler) handleRegister(_ context.Context, c *registry.Client, f *frame) {
	if role := livemodel.ParseRole(f.Role); role != livemodel.RoleUnknown {
		h.registry.SetRole(c.ID(), role)
	}
	if lang := strings.TrimSpace(f.Language); lang != "" {
		h.registry.SetLanguage(c.ID(), lang)
	}
	if len(f.Settings) > 0 {
		h.registry.MergeSettings(c.ID(), f.Settings)
	}

	h.reply(c, map[string]any{
		"type":      "register",
		"success":   true,
		"sessionId": c.SessionID(),
		"role":      string(c.Role()),
		"language":  c.Language(),
		"settings":  c.Settings(),
	})
}

// handleTranscription 教师发言进入扇出，非教师发送则忽略
func (h *Handler) handleTranscription(ctx context.Context, c *registry.Client, f *frame) {
	if c.Role() != livemodel.RoleTeacher {
		h.log.Warn().Str("client", c.ID()).Str("role", string(c.Role())).Msg("non-teacher transcription ignored")
		return
	}
	if strings.TrimSpace(f.Text) == "" {
		return
	}

	source := strings.TrimSpace(f.Language)
	if source == "" {
		source = c.Language()
	}

	utt := translation.Utterance{
		Text:           f.Text,
		SourceLanguage: source,
		ReceivedAt:     time.Now(),
	}

	// 扇出可能等待上游服务，放到读循环之外执行；
	// 教师连接中断不应中止已经开始的广播
	go func() {
		ctx := context.WithoutCancel(ctx)
		if err := h.engine.Broadcast(ctx, c, utt); err != nil {
			h.log.Warn().Err(err).Str("client", c.ID()).Msg("broadcast failed")
		}
	}()
}

// handleAudio 服务端转写未接入，主路径是客户端转写，这里只记录
func (h *Handler) handleAudio(_ context.Context, c *registry.Client, _ *frame) {
	if c.Role() != livemodel.RoleTeacher {
		h.log.Warn().Str("client", c.ID()).Msg("non-teacher audio ignored")
		return
	}
	h.log.Debug().Str("client", c.ID()).Msg("audio frame received, server-side transcription not wired")
}

// handleTTSRequest 在扇出路径之外为任意文本合成音频
func (h *Handler) handleTTSRequest(ctx context.Context, c *registry.Client, f *frame) {
	text := strings.TrimSpace(f.Text)
	lang := strings.TrimSpace(f.Language)
	if text == "" || lang == "" {
		h.reply(c, map[string]any{
			"type":    "tts_response",
			"success": false,
			"error":   "text and language are required",
		})
		return
	}
	if !c.AllowTTSRequest() {
		h.reply(c, map[string]any{
			"type":    "tts_response",
			"success": false,
			"error":   "tts request rate limit exceeded",
		})
		return
	}

	style := emotion.StyleFor(text, h.speechCfg.SpeedMin, h.speechCfg.SpeedMax)
	voice := strings.TrimSpace(f.Voice)
	if voice == "" {
		voice = h.catalog.Resolve(lang, string(style.Category))
	}
	speed := f.Speed
	if speed <= 0 {
		speed = h.speechCfg.Speed * style.SpeedMultiplier
	}

	resp, err := h.synth.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: c.SessionID(),
		Text:      style.Text,
		Voice:     voice,
		Speed:     speed,
		Language:  lang,
		Format:    "mp3",
		Emotion:   string(style.Category),
	})
	if err != nil {
		h.log.Warn().Err(err).Str("client", c.ID()).Msg("tts request failed")
		h.reply(c, map[string]any{
			"type":    "tts_response",
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	out := map[string]any{
		"type":     "tts_response",
		"success":  true,
		"language": lang,
		"voice":    voice,
	}
	if speech.IsClientSentinel(resp.AudioData) {
		out["clientTTS"] = true
	} else {
		out["audio"] = resp.AudioData // json序列化为base64
		out["format"] = resp.Format
	}
	h.reply(c, out)
}

// handleSettings 合并客户端设置并回显合并结果
func (h *Handler) handleSettings(_ context.Context, c *registry.Client, f *frame) {
	if len(f.Settings) > 0 {
		h.registry.MergeSettings(c.ID(), f.Settings)
	}
	h.reply(c, map[string]any{
		"type":     "settings",
		"success":  true,
		"settings": c.Settings(),
	})
}

// handlePing 应用层ping，回带客户端时间戳与服务端收发时间戳
func (h *Handler) handlePing(_ context.Context, c *registry.Client, f *frame) {
	received := time.Now().UnixMilli()
	h.reply(c, map[string]any{
		"type":            "pong",
		"clientTimestamp": f.Timestamp,
		"serverReceived":  received,
		"serverSent":      time.Now().UnixMilli(),
	})
}

func (h *Handler) reply(c *registry.Client, v any) {
	if err := c.Send(v); err != nil {
		h.log.Warn().Err(err).Str("client", c.ID()).Msg("failed to send reply")
	}
}
