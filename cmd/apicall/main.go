package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log"

	"voxcampaign/internal/agent"
	"voxcampaign/internal/api"
	"voxcampaign/internal/bridge"
	"voxcampaign/internal/campaign"
	"voxcampaign/internal/config"
	"voxcampaign/internal/lifecycle"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
	"voxcampaign/internal/termination"
	"voxcampaign/internal/webhook"
)

const defaultConfigPath = "/etc/voxcampaign/voxcampaign.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("VoxCampaign - Outbound Voice Campaign Orchestrator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  voxcampaign start     Starts the full orchestrator service")
	fmt.Println("  voxcampaign status    Prints a one-shot health summary")
	fmt.Println()
}

func cmdStart() {
	log.Println("[Main] VoxCampaign orchestrator starting")

	configPath := os.Getenv("VOXCAMPAIGN_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] loading configuration: %v", err)
	}

	conn, err := store.Connect(store.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port,
		User: cfg.Database.Username, Password: cfg.Database.Password, DBName: cfg.Database.Database,
		MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("[Main] connecting to store: %v", err)
	}
	defer conn.Close()
	log.Println("[Main] store connected")

	if cfg.Database.MigrationsPath != "" {
		if err := store.RunMigrations(conn, cfg.Database.MigrationsPath); err != nil {
			log.Fatalf("[Main] running migrations: %v", err)
		}
	}

	repo := store.NewRepository(conn)
	defer repo.Close()

	telephonyClient := telephony.NewClient(cfg.Telephony)
	if err := telephonyClient.Connect(); err != nil {
		log.Fatalf("[Main] connecting to telephony carrier: %v", err)
	}
	defer telephonyClient.Close()
	log.Println("[Main] telephony control channel connected")

	agentAdapter := agent.NewAdapter(cfg.Agent)
	hub := realtime.NewHub()
	tracker := termination.New()

	lifecycleMgr := lifecycle.NewManager(lifecycle.Config{
		Store:             repo,
		Telephony:         telephonyClient,
		Hub:               hub,
		Tracker:           tracker,
		MediaStreamURL:    cfg.Telephony.MediaStreamURL,
		StatusCallbackURL: cfg.Telephony.StatusCallbackURL,
		HangupTimeout:     cfg.Telephony.HangupTimeout(),
	})

	scheduler := campaign.NewScheduler(repo, lifecycleMgr, hub, cfg.Scheduler.PollInterval())
	schedCtx, schedCancel := context.WithCancel(context.Background())
	go scheduler.Run(schedCtx)
	log.Println("[Main] campaign scheduler running")

	ingestor := webhook.NewIngestor(repo, lifecycleMgr, hub, []byte(cfg.Agent.WebhookSecret), cfg.Webhook.SignatureHeader)

	newBridge := func() *bridge.Bridge {
		return bridge.New(bridge.Config{
			Store:             repo,
			Hub:               hub,
			Agent:             agentAdapter,
			Lifecycle:         lifecycleMgr,
			Termination:       tracker,
			InactivityTimeout: 60 * time.Second,
			Typewriter:        realtime.DefaultTypewriterConfig(),
		})
	}

	if cfg.Agent.WebhookSecret == "" {
		log.Println("[Main] WARNING: agent webhook secret is empty, every signature check will fail closed")
	}

	recordingsDir := cfg.Recordings.CacheDir
	if recordingsDir == "" {
		recordingsDir = "/var/lib/voxcampaign/recordings"
	}
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		log.Fatalf("[Main] creating recordings cache dir: %v", err)
	}

	apiServer := api.NewServer(api.Dependencies{
		Store:         repo,
		Lifecycle:     lifecycleMgr,
		Scheduler:     scheduler,
		Hub:           hub,
		Ingestor:      ingestor,
		Telephony:     telephonyClient,
		NewBridge:     newBridge,
		RecordingsDir: recordingsDir,
	})

	httpServer := &http.Server{
		Addr:    cfg.API.Address(),
		Handler: apiServer,
	}
	go func() {
		log.Printf("[Main] API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] API server error: %v", err)
		}
	}()

	log.Println("[Main] orchestrator started, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[Main] shutdown signal received, draining in-flight calls")
	shutdown(httpServer, schedCancel, lifecycleMgr, repo)
}

// shutdown stops accepting new HTTP work immediately, gives in-flight
// calls a grace period to finish on their own, then force-finalizes
// whatever is left with reason "shutdown".
func shutdown(httpServer *http.Server, schedCancel context.CancelFunc, lifecycleMgr *lifecycle.Manager, repo *store.Repository) {
	schedCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[Main] HTTP server shutdown error: %v", err)
	}

	const grace = 30 * time.Second
	log.Printf("[Main] waiting up to %s for in-flight calls to finalize", grace)
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		calls, err := repo.ListCalls(context.Background(), "", 0, time.Time{}, time.Time{}, 1000, 0)
		if err != nil {
			break
		}
		pending := 0
		for _, c := range calls {
			if !c.IsTerminal() {
				pending++
			}
		}
		if pending == 0 {
			break
		}
		time.Sleep(time.Second)
	}

	calls, err := repo.ListCalls(context.Background(), "", 0, time.Time{}, time.Time{}, 1000, 0)
	if err == nil {
		for _, c := range calls {
			if !c.IsTerminal() {
				lifecycleMgr.ReportTerminationExternal(c.CallSid, "shutdown")
			}
		}
	}

	log.Println("[Main] shutdown complete")
}

func cmdStatus() {
	configPath := os.Getenv("VOXCAMPAIGN_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	conn, err := store.Connect(store.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port,
		User: cfg.Database.Username, Password: cfg.Database.Password, DBName: cfg.Database.Database,
	})
	if err != nil {
		fmt.Printf("store: unreachable (%v)\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	repo := store.NewRepository(conn)
	defer repo.Close()

	campaigns, err := repo.ListActiveCampaigns(context.Background())
	if err != nil {
		fmt.Printf("store: query failed (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("store: connected\nactive/paused campaigns: %d\n", len(campaigns))
}
