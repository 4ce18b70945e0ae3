package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mliang/classcast/backend/internal/config"
)

const translateSystemPrompt = "你是一名专业的同声传译员。把用户给出的课堂内容从 {source} 翻译成 {target}。" +
	"只输出译文本身，不要任何解释、注音或引号。保持口语化的课堂语气，专有名词按目标语言习惯处理。"

// ArkTranslator 通过 Ark 大模型完成文本翻译。
type ArkTranslator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkTranslator 使用配置创建翻译链。
func NewArkTranslator(ctx context.Context, cfg config.AIConfig) (*ArkTranslator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(translateSystemPrompt),
		schema.UserMessage("{text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translation chain: %w", err)
	}

	return &ArkTranslator{chain: runnable}, nil
}

// Translate 调用模型翻译文本，源语言与目标语言相同时直接透传。
func (t *ArkTranslator) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}
	if sameLanguage(sourceLanguage, targetLanguage) {
		return text, nil
	}

	input := map[string]any{
		"source": sourceLanguage,
		"target": targetLanguage,
		"text":   trimmed,
	}

	msg, err := t.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("translation chain invoke failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("translation chain returned empty content")
	}

	return strings.TrimSpace(msg.Content), nil
}
