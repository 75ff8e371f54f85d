package nodesim

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const (
	// defaultSeedHumidity is used when SoilGrids is unreachable or the
	// node has no coordinates.
	defaultSeedHumidity = 30.0

	// soilGridsURL: one fetch at startup to seed a plausible humidity for
	// the node's location. Never called per tick.
	soilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query?lat=%f&lon=%f&property=wv0010"

	// Raw ADC counts of the capacitive probe at the humidity extremes.
	rawDry = 3200.0
	rawWet = 1400.0
)

// Generator produces the drifting sensor signal of one node: humidity as a
// bounded random walk, RSSI jitter around the node's link quality, and a
// battery voltage that only ever sags.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	seeded   bool
	humidity float64 // percent, 0..100
	voltage  float64
	baseRSSI int

	httpClient *http.Client
}

func NewGenerator(seed int64, baseRSSI int) *Generator {
	return &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		voltage:    4.1,
		baseRSSI:   baseRSSI,
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
}

// SeedFromSoilGrids fetches the location's topsoil water content once and
// uses it as the starting humidity. On any failure the default seed is
// used; the simulator must come up without network access.
func (g *Generator) SeedFromSoilGrids(ctx context.Context, lat, lon float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seeded {
		return
	}

	g.humidity = defaultSeedHumidity
	if lat != 0 || lon != 0 {
		if wv, err := g.fetchWaterContent(ctx, lat, lon); err == nil {
			g.humidity = wv * 100
		}
	}
	g.seeded = true
}

// Next advances the walk and returns the node's current signal.
func (g *Generator) Next() (humidity, rawValue float64, rssi int, voltage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.seeded {
		g.humidity = defaultSeedHumidity
		g.seeded = true
	}

	g.humidity += g.rng.NormFloat64() * 0.8
	if g.humidity < 0 {
		g.humidity = 0
	}
	if g.humidity > 100 {
		g.humidity = 100
	}

	// the battery never recovers
	g.voltage -= g.rng.Float64() * 0.0005
	if g.voltage < 3.0 {
		g.voltage = 3.0
	}

	rawValue = rawDry - g.humidity/100*(rawDry-rawWet)
	rssi = g.baseRSSI + g.rng.Intn(13) - 6
	return g.humidity, rawValue, rssi, g.voltage
}

func (g *Generator) fetchWaterContent(ctx context.Context, lat, lon float64) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(soilGridsURL, lat, lon), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "soilnet-nodesim/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode)
	}

	var body struct {
		Properties struct {
			Layers []struct {
				Depths []struct {
					Values map[string]float64 `json:"values"`
				} `json:"depths"`
			} `json:"layers"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}

	layers := body.Properties.Layers
	if len(layers) == 0 || len(layers[0].Depths) == 0 {
		return 0, fmt.Errorf("soilgrids: no layers in response")
	}
	vals := layers[0].Depths[0].Values
	for _, k := range []string{"Q0.5", "mean", "Q0.95", "Q0.05"} {
		if v, ok := vals[k]; ok {
			return normalizeWV(v), nil
		}
	}
	return 0, fmt.Errorf("soilgrids: water content not found")
}

// normalizeWV maps SoilGrids wv values to 0..1. The layers are commonly
// integers in thousandths of m3/m3 (420 means 0.420).
func normalizeWV(x float64) float64 {
	if x > 1.5 {
		x /= 1000
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
