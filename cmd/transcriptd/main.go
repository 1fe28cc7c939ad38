// cmd/transcriptd — 转录重建守护进程主入口。
//
// 拉起 app-server 子进程, 订阅其协议事件流, 在内存中重建有序
// transcript, 并通过只读 HTTP API + SSE 对外暴露投影。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentmesh/go-transcript/internal/apiserver"
	"github.com/agentmesh/go-transcript/internal/appserver"
	"github.com/agentmesh/go-transcript/internal/bus"
	"github.com/agentmesh/go-transcript/internal/config"
	"github.com/agentmesh/go-transcript/internal/database"
	"github.com/agentmesh/go-transcript/internal/journal"
	"github.com/agentmesh/go-transcript/internal/protocol"
	"github.com/agentmesh/go-transcript/internal/transcript"
	"github.com/agentmesh/go-transcript/pkg/logger"
	"github.com/agentmesh/go-transcript/pkg/util"
)

const appVersion = "0.3.0"

func main() {
	resumeID := flag.String("resume", "", "resume an existing thread instead of starting a new one")
	cwd := flag.String("cwd", "", "working directory for the thread (defaults to the process cwd)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("file logging unavailable", logger.FieldError, err)
		}
	}

	workDir := *cwd
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	msgBus := bus.NewMessageBus()

	// 诊断落盘可选: 未启用时 journal 为 nil, 总线无降级存储。
	var jnl *journal.Journal
	if cfg.JournalEnabled && cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()

		jnl = journal.New(pool)
		if err := jnl.EnsureSchema(ctx); err != nil {
			logger.Fatal("journal schema failed", logger.FieldError, err)
		}
		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()
	}

	publisher := bus.NewResilientPublisher(msgBus, fallbackOrNil(jnl))
	publisher.Start(ctx)
	defer publisher.Stop()

	rec := transcript.New(transcript.Config{
		ShowReasoning:     cfg.ShowReasoning,
		CollapseByDefault: cfg.CollapseByDefault,
	})
	rec.SetOnChange(func(threadID string) {
		publisher.Publish(bus.Message{
			Topic: bus.TranscriptTopic(threadID),
			From:  "reconciler",
			Type:  bus.MsgTranscriptUpdated,
		})
	})

	client := appserver.NewClient(cfg.AppServerURL,
		time.Duration(cfg.AppServerTimeoutSec)*time.Second,
		time.Duration(cfg.AppServerPingSec)*time.Second)
	client.SetHandler(func(env protocol.Envelope) {
		rec.Apply(env)
		if jnl != nil {
			jnl.RecordEvent(ctx, rec.ThreadID(), env)
		}
	})

	if err := client.Spawn(ctx); err != nil {
		logger.Fatal("app-server spawn failed", logger.FieldError, err)
	}
	defer client.Close()
	if err := client.Connect(); err != nil {
		logger.Fatal("app-server connect failed", logger.FieldError, err)
	}

	gw := appserver.NewGateway(client, rec, appserver.TurnOptions{
		Model:          cfg.DefaultModel,
		Effort:         cfg.DefaultEffort,
		ApprovalPolicy: cfg.DefaultApprovalPolicy,
	})
	if err := gw.Initialize("transcriptd", appVersion); err != nil {
		logger.Fatal("initialize handshake failed", logger.FieldError, err)
	}

	if *resumeID != "" {
		if err := gw.ResumeThread(*resumeID, workDir); err != nil {
			logger.Fatal("thread resume failed",
				logger.FieldThreadID, *resumeID,
				logger.FieldError, err)
		}
	} else {
		threadID, err := gw.StartThread(workDir)
		if err != nil {
			logger.Fatal("thread start failed", logger.FieldError, err)
		}
		logger.Info("thread ready", logger.FieldThreadID, threadID)
	}

	srv := apiserver.NewServer(rec, jnl, msgBus, cfg.APIPageLimit)
	logger.Info("projection api starting",
		logger.FieldListen, cfg.APIListenAddr,
		logger.FieldVersion, appVersion)
	util.SafeGo(func() {
		if err := srv.Run(cfg.APIListenAddr); err != nil {
			logger.Fatal("api server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
}

// fallbackOrNil 避免把携带 nil 指针的接口值传给 publisher。
func fallbackOrNil(j *journal.Journal) bus.FallbackStore {
	if j == nil {
		return nil
	}
	return j
}
