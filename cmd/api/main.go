package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mliang/classcast/backend/internal/config"
	"github.com/mliang/classcast/backend/internal/handler"
	"github.com/mliang/classcast/backend/internal/handler/live"
	"github.com/mliang/classcast/backend/internal/service/fanout"
	"github.com/mliang/classcast/backend/internal/service/registry"
	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/internal/service/translate"
	"github.com/mliang/classcast/backend/internal/service/ttscache"
	"github.com/mliang/classcast/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 没有.env时继续用系统环境变量
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Log)

	// 声音目录：有文件用文件并热加载，否则用内置目录
	catalog := speech.DefaultCatalog()
	if cfg.Catalog.Path != "" {
		if err := catalog.Load(cfg.Catalog.Path); err != nil {
			log.Warn().Err(err).Str("path", cfg.Catalog.Path).Msg("加载音色目录失败，使用内置目录")
		} else {
			go func() {
				if err := catalog.Watch(cfg.Catalog.Path, log); err != nil {
					log.Warn().Err(err).Msg("音色目录监听退出")
				}
			}()
		}
	}

	cache, err := ttscache.New(cfg.Cache.Dir, cfg.Cache.TTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize TTS cache")
	}
	if cfg.Cache.SweepSpec != "" {
		sweeper, err := cache.StartSweeper(cfg.Cache.SweepSpec)
		if err != nil {
			log.Warn().Err(err).Str("spec", cfg.Cache.SweepSpec).Msg("缓存清理任务未启动")
		} else {
			defer sweeper.Stop()
		}
	}

	// 翻译后端：Ark凭证缺失时退回passthrough，系统仍可运行
	var translator translate.Translator
	if cfg.AI.Enabled() {
		arkTranslator, err := translate.NewArkTranslator(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("Ark翻译初始化失败，退回原文透传")
			translator = translate.Identity{}
		} else {
			log.Info().Str("model", cfg.AI.Model).Msg("Ark translation model initialized")
			translator = arkTranslator
		}
	} else {
		log.Info().Msg("Ark凭证未配置，翻译退化为原文透传")
		translator = translate.Identity{}
	}

	// 合成后端：火山引擎或客户端本地合成
	var synth speech.Synthesizer
	if cfg.Speech.Backend == "volcengine" && cfg.Speech.Enabled {
		synth = speech.NewVolcengineSynthesizer(cfg.Speech, log)
		log.Info().Msg("volcengine TTS backend initialized")
	} else {
		synth = speech.NewClientSynthesizer()
		log.Info().Msg("using client-side speech synthesis")
	}

	// 可选的SQLite历史存储
	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path, log)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("历史存储初始化失败，继续无持久化运行")
			st = nil
		} else {
			defer st.Close()
		}
	}

	reg := registry.New()
	monitor := registry.NewMonitor(reg, cfg.Heartbeat.Interval, log)
	go monitor.Run(ctx)

	var recorder fanout.Recorder
	if st != nil {
		recorder = st
	}
	engine := fanout.New(reg, translator, synth, cache, catalog, recorder, cfg.Speech, cfg.Retry, log)

	liveHandler := live.New(reg, engine, synth, catalog, cfg.Speech, cfg.Limit, st, log)
	router := handler.NewRouter(liveHandler, catalog, reg, st)

	startServer(ctx, cfg.Server, router, log)
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("classcast backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
