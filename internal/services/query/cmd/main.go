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

	"github.com/gorilla/handlers"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/soilnet/soilnet/internal/model"
	"github.com/soilnet/soilnet/internal/services/history"
	"github.com/soilnet/soilnet/internal/services/liveness"
	"github.com/soilnet/soilnet/internal/services/query"
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

// parseSoilClasses reads "node-1=clay,node-2=sandy". Nodes not listed
// default to loam at request time.
func parseSoilClasses(s string) map[string]model.SoilClass {
	out := make(map[string]model.SoilClass)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		node, class, ok := strings.Cut(pair, "=")
		if !ok {
			log.Printf("query-svc: ignoring malformed soil class entry %q", pair)
			continue
		}
		out[strings.TrimSpace(node)] = model.ParseSoilClass(class)
	}
	return out
}

func main() {
	cfg := struct {
		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		QueryBudget time.Duration

		PredictorURL      string
		PredictorTimeout  time.Duration
		PredictorFailTrip int
		PredictorOpenFor  time.Duration

		SoilClasses map[string]model.SoilClass

		HTTPPort      int
		ShutdownGrace time.Duration
	}{
		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "soilnet"),
		InfluxBucket: envStr("INFLUX_BUCKET", "readings"),

		QueryBudget: time.Duration(envInt("QUERY_BUDGET_MS", int(history.DefaultQueryBudget.Milliseconds()))) * time.Millisecond,

		PredictorURL:      os.Getenv("PREDICTOR_URL"),
		PredictorTimeout:  time.Duration(envInt("PREDICTOR_TIMEOUT_MS", 2000)) * time.Millisecond,
		PredictorFailTrip: envInt("PREDICTOR_FAIL_TRIP", 3),
		PredictorOpenFor:  time.Duration(envInt("PREDICTOR_OPEN_FOR_MS", 30000)) * time.Millisecond,

		SoilClasses: parseSoilClasses(os.Getenv("NODE_SOIL_CLASSES")),

		HTTPPort:      envInt("HTTP_PORT", 8081),
		ShutdownGrace: 5 * time.Second,
	}

	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	defer influx.Close()

	store := query.NewInfluxStore(influx, cfg.InfluxOrg, cfg.InfluxBucket)
	agg := history.NewAggregator(store, cfg.QueryBudget)

	var predictor *query.Predictor
	if cfg.PredictorURL != "" {
		predictor = query.NewPredictor(cfg.PredictorURL, cfg.PredictorTimeout, cfg.PredictorFailTrip, cfg.PredictorOpenFor)
	} else {
		log.Printf("query-svc: PREDICTOR_URL unset, prediction route disabled")
	}

	api := query.NewAPI(store, agg, predictor, cfg.SoilClasses, liveness.RealClock{})

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, api.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("query-svc: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("query-svc: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}
