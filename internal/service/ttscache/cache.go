package ttscache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const entrySuffix = ".tts"

// Key 根据合成相关字段计算内容寻址键。相同文本在不同 voice/speed/emotion
// 下不会发生碰撞。
func Key(text, language, voice string, speed float32, emotion string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(float64(speed), 'f', -1, 32)))
	h.Write([]byte{0})
	h.Write([]byte(emotion))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache 把合成好的音频按键存成缓存目录里的文件，超过TTL的条目等同未命中
// （惰性淘汰）。并发对同一键的写入是幂等的，读写错误一律按未命中处理，
// 不会影响扇出流程。
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// New 创建缓存并确保目录存在。
func New(dir string, ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		dir: dir,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "ttscache").Logger(),
	}, nil
}

// Get 按键读取缓存音频，过期或读取失败时返回未命中。
func (c *Cache) Get(key string) ([]byte, bool) {
	path := c.path(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(info.ModTime()) > c.ttl {
		// 过期条目顺手删掉，失败也无妨，下次清理会再处理。
		_ = os.Remove(path)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		return nil, false
	}
	return data, true
}

// Put 按键写入缓存音频，写失败只记录日志。
func (c *Cache) Put(key string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Sweep 删除所有过期条目并返回删除数量。
func (c *Cache) Sweep() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn().Err(err).Msg("cache sweep failed to list dir")
		return 0
	}

	removed := 0
	cutoff := c.now().Add(-c.ttl)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != entrySuffix {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("cache sweep completed")
	}
	return removed
}

// StartSweeper 按照cron表达式定期执行Sweep。spec为空时不启动。
// 返回的cron实例由调用方负责Stop。
func (c *Cache) StartSweeper(spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	runner := cron.New(cron.WithParser(parser))
	if _, err := runner.AddFunc(spec, func() { c.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid cache sweep spec %q: %w", spec, err)
	}
	runner.Start()
	return runner, nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}
