package speech

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"
)

// Voice 描述一个可用音色及其擅长的情感标签
type Voice struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name,omitempty"`
	Emotions []string `yaml:"emotions,omitempty"`
}

// LanguageVoices 一个语言代码下的音色列表
type LanguageVoices struct {
	Code   string  `yaml:"code"`
	Label  string  `yaml:"label,omitempty"`
	Voices []Voice `yaml:"voices"`
}

type catalogFile struct {
	DefaultVoice string           `yaml:"defaultVoice,omitempty"`
	Languages    []LanguageVoices `yaml:"languages"`
}

// Catalog 管理语言到音色的映射，支持从YAML文件热加载。
// 并发安全：Resolve/Languages 与 Load 可同时调用。
type Catalog struct {
	mu           sync.RWMutex
	defaultVoice string
	languages    []LanguageVoices
}

// DefaultCatalog 返回内置的音色目录，未提供目录文件时使用
func DefaultCatalog() *Catalog {
	return &Catalog{
		defaultVoice: "en_female_amy_jupiter_bigtts",
		languages: []LanguageVoices{
			{Code: "zh-CN", Label: "简体中文", Voices: []Voice{
				{ID: "zh_female_shuangkuaisisi_emo_v2_mars_bigtts", Emotions: []string{"excited", "calm"}},
				{ID: "zh_male_beijingxiaoye_emo_v2_mars_bigtts", Emotions: []string{"serious", "sad"}},
			}},
			{Code: "en-US", Label: "English (US)", Voices: []Voice{
				{ID: "en_female_amy_jupiter_bigtts", Emotions: []string{"calm", "sad"}},
				{ID: "en_male_glen_emo_v2_mars_bigtts", Emotions: []string{"excited", "serious"}},
			}},
			{Code: "es-ES", Label: "Español", Voices: []Voice{
				{ID: "multi_female_sofia_mars_bigtts"},
			}},
			{Code: "fr-FR", Label: "Français", Voices: []Voice{
				{ID: "multi_female_celine_mars_bigtts"},
			}},
			{Code: "ja-JP", Label: "日本語", Voices: []Voice{
				{ID: "multi_male_haruto_mars_bigtts"},
			}},
			{Code: "de-DE", Label: "Deutsch", Voices: []Voice{
				{ID: "multi_female_greta_mars_bigtts"},
			}},
		},
	}
}

// Load 从YAML文件替换整个目录内容
func (c *Catalog) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取音色目录失败: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析音色目录失败: %w", err)
	}
	if len(file.Languages) == 0 {
		return fmt.Errorf("音色目录为空: %s", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.languages = file.Languages
	if file.DefaultVoice != "" {
		c.defaultVoice = file.DefaultVoice
	}
	return nil
}

// Languages 返回排序后的可用语言代码列表
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	codes := make([]string, 0, len(c.languages))
	for _, lang := range c.languages {
		codes = append(codes, lang.Code)
	}
	sort.Strings(codes)
	return codes
}

// Entries 返回目录内容的副本，供只读展示用
func (c *Catalog) Entries() []LanguageVoices {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]LanguageVoices, len(c.languages))
	copy(out, c.languages)
	return out
}

// Resolve 根据目标语言和情感选择音色。
// 优先返回声明了对应情感的音色，其次该语言的第一个音色，
// 都没有时回退到默认音色。语言匹配忽略大小写，且允许仅主语言子标签匹配
// （如 "es" 匹配 "es-ES"）。
func (c *Catalog) Resolve(language, emotion string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lang := c.lookup(language)
	if lang == nil {
		return c.defaultVoice
	}

	if emotion != "" {
		for _, v := range lang.Voices {
			for _, e := range v.Emotions {
				if strings.EqualFold(e, emotion) {
					return v.ID
				}
			}
		}
	}
	if len(lang.Voices) > 0 {
		return lang.Voices[0].ID
	}
	return c.defaultVoice
}

func (c *Catalog) lookup(language string) *LanguageVoices {
	for i := range c.languages {
		if strings.EqualFold(c.languages[i].Code, language) {
			return &c.languages[i]
		}
	}
	base := primarySubtag(language)
	if base == "" {
		return nil
	}
	for i := range c.languages {
		if strings.EqualFold(primarySubtag(c.languages[i].Code), base) {
			return &c.languages[i]
		}
	}
	return nil
}

func primarySubtag(code string) string {
	if idx := strings.IndexAny(code, "-_"); idx > 0 {
		return code[:idx]
	}
	return code
}

// Watch 监听目录文件变更并热加载，阻塞直到watcher出错或关闭。
// 加载失败只记录日志，保留上一份有效目录。
func (c *Catalog) Watch(path string, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("监听音色目录失败: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := c.Load(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("音色目录热加载失败")
				continue
			}
			log.Info().Str("path", path).Msg("音色目录已重新加载")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("音色目录监听错误")
		}
	}
}
