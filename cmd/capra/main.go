package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capra-ai/capra/chat"
	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/graphdb"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/durable"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/internal/platform/logger"
	"github.com/capra-ai/capra/internal/platform/otel"
	"github.com/capra-ai/capra/internal/server"
	v1 "github.com/capra-ai/capra/internal/server/v1"
	"github.com/capra-ai/capra/stt"
	"github.com/capra-ai/capra/tts"
	"github.com/capra-ai/capra/vector"
	"github.com/capra-ai/capra/websearch"

	// Adapters register themselves from init.
	_ "github.com/capra-ai/capra/chat/bedrock"
	_ "github.com/capra-ai/capra/chat/openai"
	_ "github.com/capra-ai/capra/exec/local"
	_ "github.com/capra-ai/capra/graphdb/neo4j"
	_ "github.com/capra-ai/capra/stt/deepgram"
	_ "github.com/capra-ai/capra/tts/elevenlabs"
	_ "github.com/capra-ai/capra/tts/polly"
	_ "github.com/capra-ai/capra/vector/qdrant"
	_ "github.com/capra-ai/capra/websearch/brave"
	_ "github.com/capra-ai/capra/websearch/tavily"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	shutdown, err := otel.InitTracer("capra", log, os.Stdout)
	if err != nil {
		log.Fatal("tracer init failed", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	resolver := conf.NewResolver()
	httpSettings, err := resolver.HTTP(nil)
	if err != nil {
		log.Fatal("http settings invalid", zap.Error(err))
	}
	client := httpx.New(
		httpx.WithTimeout(httpSettings.Timeout),
		httpx.WithMaxRetries(httpSettings.MaxRetries),
	)

	journal, err := openJournal(log)
	if err != nil {
		log.Fatal("journal init failed", zap.Error(err))
	}
	handler := v1.NewHandler(durable.NewManager(journal))

	// Providers whose credentials are absent are skipped, not fatal; the
	// gateway serves whatever could be constructed.
	for _, name := range []string{"openai", "bedrock"} {
		p, err := chat.New(name, chat.Deps{HTTP: client, Conf: resolver})
		if err != nil {
			log.Warn("chat provider unavailable", zap.String("provider", name), zap.Error(err))
			continue
		}
		handler.Chat[name] = p
	}
	if p, err := stt.New("deepgram", stt.Deps{HTTP: client, Conf: resolver}); err != nil {
		log.Warn("stt provider unavailable", zap.String("provider", "deepgram"), zap.Error(err))
	} else {
		handler.STT["deepgram"] = p
	}
	for _, name := range []string{"elevenlabs", "polly"} {
		p, err := tts.New(name, tts.Deps{HTTP: client, Conf: resolver})
		if err != nil {
			log.Warn("tts provider unavailable", zap.String("provider", name), zap.Error(err))
			continue
		}
		handler.TTS[name] = p
	}
	if p, err := vector.New("qdrant", vector.Deps{HTTP: client, Conf: resolver}); err != nil {
		log.Warn("vector provider unavailable", zap.String("provider", "qdrant"), zap.Error(err))
	} else {
		handler.Vector["qdrant"] = p
	}
	for _, name := range []string{"brave", "tavily"} {
		p, err := websearch.New(name, websearch.Deps{HTTP: client, Conf: resolver})
		if err != nil {
			log.Warn("search provider unavailable", zap.String("provider", name), zap.Error(err))
			continue
		}
		handler.Search[name] = p
	}
	if p, err := graphdb.New("neo4j", graphdb.Deps{HTTP: client, Conf: resolver}); err != nil {
		log.Warn("graph provider unavailable", zap.String("provider", "neo4j"), zap.Error(err))
	} else {
		handler.Graph["neo4j"] = p
	}
	if p, err := exec.New("local", exec.Deps{Conf: resolver}); err != nil {
		log.Warn("exec provider unavailable", zap.String("provider", "local"), zap.Error(err))
	} else {
		handler.Exec["local"] = p
	}

	srv := server.New(log, handler)
	if err := srv.Run(":" + envOr("CAPRA_PORT", "8080")); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// openJournal selects the durability backend: sqlite by default, redis when
// CAPRA_JOURNAL=redis, in-memory when CAPRA_JOURNAL=memory.
func openJournal(log *zap.Logger) (durable.Journal, error) {
	switch backend := envOr("CAPRA_JOURNAL", "sqlite"); backend {
	case "memory":
		return durable.NewMemoryJournal(), nil
	case "redis":
		addr := envOr("CAPRA_REDIS_ADDR", "localhost:6379")
		log.Info("using redis journal", zap.String("addr", addr))
		return durable.NewRedisJournal(redis.NewClient(&redis.Options{Addr: addr})), nil
	default:
		dsn := envOr("CAPRA_SQLITE_PATH", "capra.db")
		log.Info("using sqlite journal", zap.String("path", dsn))
		return durable.NewSQLiteJournal(dsn)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
