package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	"vtopassist-backend/internal/auth"
	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/service"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/vtop"
	"vtopassist-backend/pkg/configutil"
	"vtopassist-backend/pkg/serviceutil"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the configuration file.")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	cfg, err := configutil.ReadConfigOr(*configPath, defaultConfig())
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if port, ok := os.LookupEnv("PORT"); ok {
		cfg.Port, err = strconv.Atoi(port)
		if err != nil {
			serviceutil.Fatal("parse PORT", err)
		}
	}

	providers, err := telemetry.Setup(ctx, "vtop-server", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer providers.Shutdown(context.Background())

	tel := telemetry.SlogAPI{}
	if providers.MeterProvider != nil {
		go telemetry.RunPerfStats(ctx, 30*time.Second, tel)
	}

	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}

	portalOpts, err := cfg.Portal.options()
	if err != nil {
		serviceutil.Fatal("read portal config", err)
	}
	sessionOpts, err := cfg.Sessions.options()
	if err != nil {
		serviceutil.Fatal("read sessions config", err)
	}

	records, closeRecords, err := InitRecordStore(ctx, cfg.Record, tel)
	if err != nil {
		serviceutil.Fatal("init record store", err)
	}
	defer closeRecords()

	authService := auth.NewService(
		session.NewStore(clock, tel, sessionOpts),
		records,
		func() (vtop.Portal, error) {
			return vtop.NewClient(portalOpts, tel)
		},
		clock,
		tel,
	)
	handler := service.NewHandler(authService, service.WithTelemetryAPI(tel))

	slog.Info("portal", "base_url", portalOpts.BaseUrl, "strategy", portalOpts.Strategy, "record_backend", cfg.Record.Backend)
	err = serviceutil.StartHttpServer(ctx, cfg.Port, handler)
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}
