package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mliang/classcast/backend/internal/model/translation"
)

// ErrDisabled 表示存储未配置
var ErrDisabled = errors.New("store is disabled")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	role        TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	ended_at    TEXT
);

CREATE TABLE IF NOT EXISTS translations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	original_text   TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	source_language TEXT NOT NULL DEFAULT '',
	target_language TEXT NOT NULL,
	from_cache      INTEGER NOT NULL DEFAULT 0,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_translations_session ON translations(session_id, created_at);
`

// Store 用SQLite记录课堂会话与翻译历史。写入是尽力而为的：
// 调用方把错误当作日志事件处理，不让持久化失败影响广播。
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open 打开（必要时创建）数据库文件并应用schema
func Open(path string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrDisabled
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite只允许单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化schema失败: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "store").Logger()}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession 记录一个连接会话的开始
func (s *Store) CreateSession(ctx context.Context, sessionID, role, language string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, role, language, started_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET role=excluded.role, language=excluded.language`,
		sessionID, role, language, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// EndSession 标记会话结束时间
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().Format(time.RFC3339Nano), sessionID,
	)
	return err
}

// RecordTranslation 追加一条翻译历史
func (s *Store) RecordTranslation(ctx context.Context, sessionID string, res translation.Result) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	fromCache := 0
	if res.FromCache {
		fromCache = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translations(session_id, original_text, translated_text, source_language, target_language, from_cache, latency_ms, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sessionID, res.OriginalText, res.Text, res.SourceLanguage, res.TargetLanguage,
		fromCache, res.Latency.Total, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// TranslationRecord 翻译历史查询结果
type TranslationRecord struct {
	SessionID      string `json:"sessionId"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	FromCache      bool   `json:"fromCache"`
	LatencyMS      int64  `json:"latencyMs"`
	CreatedAt      string `json:"createdAt"`
}

// RecentTranslations 按时间倒序返回某会话最近的翻译记录
func (s *Store) RecentTranslations(ctx context.Context, sessionID string, limit int) ([]TranslationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, original_text, translated_text, source_language, target_language, from_cache, latency_ms, created_at
		 FROM translations WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TranslationRecord
	for rows.Next() {
		var rec TranslationRecord
		var fromCache int
		if err := rows.Scan(&rec.SessionID, &rec.OriginalText, &rec.TranslatedText,
			&rec.SourceLanguage, &rec.TargetLanguage, &fromCache, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.FromCache = fromCache == 1
		records = append(records, rec)
	}
	return records, rows.Err()
}
