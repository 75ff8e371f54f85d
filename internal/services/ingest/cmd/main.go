package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soilnet/soilnet/internal/services/ingest"
	"github.com/soilnet/soilnet/internal/services/liveness"
	"github.com/soilnet/soilnet/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	cfg := struct {
		Broker rabbitmq.Config

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		BatchSize     int
		FlushInterval time.Duration

		TickPeriod time.Duration

		HTTPPort      int
		ShutdownGrace time.Duration
	}{
		Broker: rabbitmq.Config{
			Host:     envStr("RABBITMQ_HOST", "localhost"),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("HOSTNAME", "ingest-service"),
		},

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "soilnet"),
		InfluxBucket: envStr("INFLUX_BUCKET", "readings"),

		BatchSize:     envInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,

		TickPeriod: time.Duration(envInt("LIVENESS_TICK_MS", int(liveness.DefaultTickPeriod.Milliseconds()))) * time.Millisecond,

		HTTPPort:      envInt("HTTP_PORT", 8080),
		ShutdownGrace: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === InfluxDB ===
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()
	writeAPI := influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
	writer := ingest.NewWriter(writeAPI)

	// === MQTT ===
	mqttClient, err := rabbitmq.NewConn(&cfg.Broker, ctx)
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	defer rabbitmq.CloseConn(mqttClient)

	consumer := rabbitmq.NewConsumer(mqttClient, ingest.TopicReadings, nil)
	publisher := rabbitmq.NewPublisher(mqttClient)

	// === Tracker + service ===
	tracker := liveness.NewTracker(liveness.RealClock{}, cfg.TickPeriod)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var svc *ingest.Service
	metrics := ingest.NewMetrics(reg, func() float64 { return svc.OnlineNodes() })
	svc = ingest.NewService(consumer, publisher, tracker, writeAPI, writer, liveness.RealClock{}, metrics)

	// === HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", ingest.NewHealthHandler(mqttClient, influx, writer))
	mux.Handle("/readyz", ingest.NewReadyHandler(mqttClient, influx, writer, 2*time.Second))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("ingest-svc: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// === Run ===
	go svc.Start(ctx)

	// Seed liveness from the last persisted readings once the tracker loop
	// is up; pushes arriving meanwhile win over the snapshot.
	if err := ingest.LoadInitialSnapshot(ctx, tracker, influx, cfg.InfluxOrg, cfg.InfluxBucket); err != nil {
		log.Printf("ingest-svc: snapshot load skipped: %v", err)
	}

	// === Wait for signal ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("ingest-svc: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	// let the write buffer flush
	time.Sleep(cfg.FlushInterval + 100*time.Millisecond)
}
