package speech

import (
	"bytes"
	"context"

	speechmodel "github.com/mliang/classcast/backend/internal/model/speech"
)

// Synthesizer 抽象语音合成后端，便于测试与替换实现。
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// clientSentinel 是保留的JSON哨兵载荷，表示音频应由客户端本地合成。
// 以该前缀开头的音频字段不包含真实音频数据。
var clientSentinelPrefix = []byte(`{"clientSynthesis"`)

// ClientSentinel 构造一份完整的哨兵载荷。
func ClientSentinel() []byte {
	return []byte(`{"clientSynthesis":true}`)
}

// IsClientSentinel 判断载荷是否为客户端合成哨兵。
func IsClientSentinel(payload []byte) bool {
	return bytes.HasPrefix(payload, clientSentinelPrefix)
}
