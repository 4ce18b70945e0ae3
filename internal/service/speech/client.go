package speech

import (
	"context"
	"time"

	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
)

// ClientSynthesizer 不做服务端合成，返回哨兵载荷，由浏览器端的
// Web Speech API 完成实际发音。用于未配置火山引擎凭证的部署。
type ClientSynthesizer struct{}

// NewClientSynthesizer 创建客户端合成后端
func NewClientSynthesizer() *ClientSynthesizer {
	return &ClientSynthesizer{}
}

func (s *ClientSynthesizer) Synthesize(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	return &speechmodel.TTSResponse{
		SessionID: req.SessionID,
		AudioData: ClientSentinel(),
		Format:    "client",
		CreatedAt: time.Now(),
	}, nil
}
