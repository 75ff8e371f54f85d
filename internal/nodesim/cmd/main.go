package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/soilnet/soilnet/internal/nodesim"
	"github.com/soilnet/soilnet/pkg/rabbitmq"
)

func main() {
	nodePrefix := flag.String("node-prefix", "node", "node id prefix")
	nodes := flag.Int("nodes", 3, "number of simulated nodes")
	interval := flag.Duration("interval", 10*time.Second, "sampling interval")
	host := flag.String("broker-host", "localhost", "MQTT broker host")
	port := flag.Int("broker-port", 1883, "MQTT broker port")
	user := flag.String("broker-user", "guest", "MQTT user")
	password := flag.String("broker-password", "guest", "MQTT password")
	lat := flag.Float64("lat", 41.51109, "latitude used to seed humidity")
	lon := flag.Float64("lon", 12.37007, "longitude used to seed humidity")
	silenceChance := flag.Float64("silence-chance", 0.02, "per-sample chance a node goes silent")
	silenceTicks := flag.Int("silence-ticks", 4, "samples skipped while silent")
	noClockEvery := flag.Int("no-clock-every", 0, "omit the timestamp on every n-th event (0 = never)")
	flag.Parse()

	cfg := &rabbitmq.Config{
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		ClientID: "nodesim",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rabbitmq.NewConn(cfg, ctx)
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	defer rabbitmq.CloseConn(client)
	publisher := rabbitmq.NewPublisher(client)

	var wg sync.WaitGroup
	for i := 0; i < *nodes; i++ {
		nodeID := fmt.Sprintf("%s-%d", *nodePrefix, i+1)
		gen := nodesim.NewGenerator(int64(i)+1, -55-5*i)
		gen.SeedFromSoilGrids(ctx, *lat, *lon)

		sim := nodesim.NewSimulator(nodesim.Config{
			NodeID:           nodeID,
			SamplingInterval: *interval,
			SilenceChance:    *silenceChance,
			SilenceTicks:     *silenceTicks,
			NoClockEvery:     *noClockEvery,
		}, gen, publisher, int64(i)+100)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
		log.Printf("nodesim: %s publishing every %s", nodeID, *interval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()
	wg.Wait()
}
