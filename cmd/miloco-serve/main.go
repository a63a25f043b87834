// Command miloco-serve wires the configuration loader, prompt matcher,
// content preprocessor, native adapter, model manager, and HTTP server into
// a running inference core. It takes no CLI framework: flags and a hand-
// wired main(), mirroring how the teacher's own example programs start up.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KamdynS/marathon/config"
	"github.com/KamdynS/marathon/content"
	"github.com/KamdynS/marathon/model"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/promptmatch"
	"github.com/KamdynS/marathon/server"
	"github.com/KamdynS/marathon/telemetry"
)

func main() {
	configPath := flag.String("config", "ai_engine_config.yaml", "path to the main YAML config")
	promptsPath := flag.String("prompts", "prompt_config.yaml", "path to the prompt-template YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("miloco-serve: loading config: %v", err)
	}

	var matcher *promptmatch.Matcher
	if templates, err := config.LoadPromptTemplates(*promptsPath); err != nil {
		log.Printf("miloco-serve: loading prompt templates: %v (classification falls back to DefaultWorker)", err)
	} else if len(templates) > 0 {
		matcher, err = promptmatch.New(templates)
		if err != nil {
			log.Fatalf("miloco-serve: compiling prompt templates: %v", err)
		}
	}

	preproc := content.New(content.NewStdImageProcessor())

	hooks := &telemetry.Hooks{
		Logf: func(ctx context.Context, level, msg string, fields map[string]any) {
			log.Printf("[%s] %s %v", level, msg, fields)
		},
		OnModelLoad: func(ctx context.Context, modelName string, err error) {
			log.Printf("[model] load %s err=%v", modelName, err)
		},
		OnModelUnload: func(ctx context.Context, modelName string, err error) {
			log.Printf("[model] unload %s err=%v", modelName, err)
		},
		OnTaskDispatch: func(ctx context.Context, modelName, taskID string, priority int) {
			log.Printf("[scheduler] dispatch %s task=%s priority=%d", modelName, taskID, priority)
		},
	}

	mgr := model.NewManager(model.ConcurrencyConfig{
		MaxQueueSize:     cfg.Concurrency.MaxQueueSize,
		QueueWaitTimeout: cfg.Concurrency.Timeout(),
	}, cfg.AutoOptVRAM, func() native.Adapter { return native.NewCLibraryAdapter() })
	mgr.Hooks = hooks
	mgr.Start(cfg.Models, matcher, preproc)
	defer mgr.Stop()

	srv, err := server.New(server.Config{
		Manager: mgr,
		App:     server.AppInfo{Title: cfg.App.Title, Version: cfg.App.Version},
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
	})
	if err != nil {
		log.Fatalf("miloco-serve: building server: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("miloco-serve: server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("miloco-serve: shutting down")
	if err := srv.Stop(context.Background()); err != nil {
		log.Printf("miloco-serve: server shutdown error: %v", err)
	}
}
