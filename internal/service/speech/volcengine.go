package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mliang/classcast/backend/internal/config"
	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
)

// volcengineWSURL 单向流式TTS端点
const volcengineWSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// VolcengineSynthesizer 火山引擎TTS WebSocket客户端
type VolcengineSynthesizer struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewVolcengineSynthesizer 创建火山引擎TTS客户端
func NewVolcengineSynthesizer(cfg config.SpeechConfig, log zerolog.Logger) *VolcengineSynthesizer {
	return &VolcengineSynthesizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		log: log.With().Str("component", "volcengine_tts").Logger(),
	}
}

type volcengineRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		AudioParams struct {
			Format      string  `json:"format"`
			SampleRate  int     `json:"sample_rate"`
			SpeedRatio  float32 `json:"speed_ratio,omitempty"`
			VolumeRatio float32 `json:"volume_ratio,omitempty"`
		} `json:"audio_params"`
		Additions string `json:"additions,omitempty"`
		Language  string `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineServerPayload struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// Synthesize 合成一段音频。音色与语速由上游决定后写在请求里，
// 这里只做协议层的编解码与资源ID回退。
func (s *VolcengineSynthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	if s.cfg.AppID == "" || s.cfg.AccessToken == "" {
		return nil, fmt.Errorf("volcengine credentials are not configured")
	}

	speaker := strings.TrimSpace(req.Voice)
	if speaker == "" {
		speaker = strings.TrimSpace(s.cfg.DefaultVoice)
	}
	if speaker == "" {
		return nil, fmt.Errorf("no speaker configured for TTS request")
	}

	timeout := time.Duration(s.cfg.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for idx, resourceID := range resourceCandidates(speaker) {
		resp, err := s.synthesizeWithResource(ctx, req, speaker, resourceID)
		if err == nil {
			if idx > 0 {
				s.log.Debug().Str("speaker", speaker).Str("resource", resourceID).Msg("fallback resource succeeded")
			}
			return resp, nil
		}
		if !isResourceMismatch(err) {
			return nil, err
		}
		s.log.Debug().Str("speaker", speaker).Str("resource", resourceID).Err(err).Msg("resource mismatch, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("TTS synthesis failed for speaker %s: %w", speaker, lastErr)
}

func (s *VolcengineSynthesizer) synthesizeWithResource(ctx context.Context, req *speechmodel.TTSRequest, speaker, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-App-Key", s.cfg.AppID)
	header.Set("X-Api-Access-Key", s.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, hresp, err := s.dialer.DialContext(ctx, volcengineWSURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if hresp != nil {
		if logid := hresp.Header.Get("X-Tt-Logid"); logid != "" {
			s.log.Debug().Str("logid", logid).Msg("TTS connected")
		}
	}

	payload, err := json.Marshal(s.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeClientRequest(payload)); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}
		msg, err := decodeServerMessage(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Type {
		case errorResponse:
			body, derr := msg.decompressedPayload()
			if derr != nil {
				return nil, fmt.Errorf("TTS error payload decode failed: %w", derr)
			}
			return nil, &statusTextError{code: msg.ErrorCode, body: string(body)}

		case audioOnlyServerResponse:
			chunk, derr := msg.decompressedPayload()
			if derr != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", derr)
			}
			audio.Write(chunk)

		case fullServerResponse:
			body, derr := msg.decompressedPayload()
			if derr != nil {
				return nil, fmt.Errorf("failed to decompress TTS payload: %w", derr)
			}

			var srv volcengineServerPayload
			if len(body) > 0 {
				if uerr := json.Unmarshal(body, &srv); uerr != nil {
					s.log.Warn().Err(uerr).Msg("unexpected TTS payload shape")
				} else {
					if srv.Code != 0 && srv.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", srv.Code, srv.Message)
					}
					if srv.ReqID != "" {
						reqID = srv.ReqID
					}
					if srv.Addition.Duration != "" {
						if ms, perr := strconv.ParseInt(srv.Addition.Duration, 10, 64); perr == nil {
							duration = ms
						}
					}
					if srv.Data != "" {
						chunk, berr := decodeBase64Audio(srv.Data)
						if berr != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", berr)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := msg.last() || srv.Sequence < 0 ||
				(msg.Flags&withEvent == withEvent && msg.Event == eventSessionFinished)
			if finished {
				if audio.Len() == 0 {
					return nil, fmt.Errorf("TTS audio is empty")
				}
				if reqID == "" {
					reqID = connectID
				}
				return &speechmodel.TTSResponse{
					SessionID: req.SessionID,
					AudioData: audio.Bytes(),
					Duration:  duration,
					Format:    "mp3",
					RequestID: reqID,
					CreatedAt: time.Now(),
				}, nil
			}

		default:
			s.log.Warn().Uint8("type", uint8(msg.Type)).Msg("unexpected TTS message type")
		}
	}
}

func (s *VolcengineSynthesizer) buildRequest(req *speechmodel.TTSRequest, speaker string) *volcengineRequest {
	out := &volcengineRequest{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.New().String()
	}
	out.User.UID = uid

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams.Format = "mp3"
	out.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = s.cfg.Speed
	}
	if speed > 0 && speed != 1.0 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = s.cfg.Volume
	}
	if volume > 0 && volume != 1.0 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	if lang := strings.TrimSpace(req.Language); lang != "" {
		out.ReqParams.Language = lang
	}

	additions := map[string]any{
		"disable_markdown_filter": false,
	}
	if req.Emotion != "" {
		additions["enable_emotion"] = true
		additions["emotion"] = req.Emotion
	}
	if data, err := json.Marshal(additions); err == nil {
		out.ReqParams.Additions = string(data)
	}

	return out
}

// statusTextError 携带服务端错误码，供上层判断是否可重试
type statusTextError struct {
	code uint32
	body string
}

func (e *statusTextError) Error() string {
	return fmt.Sprintf("TTS error %d: %s", e.code, e.body)
}

// resourceCandidates 根据音色名猜测资源ID的尝试顺序
func resourceCandidates(speaker string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	if strings.HasPrefix(speaker, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "mars", "jupiter", "venus", "uranus"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func decodeBase64Audio(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

func isResourceMismatch(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
