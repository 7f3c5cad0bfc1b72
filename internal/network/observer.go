// Package network tracks connectivity and classifies link quality into
// five ordinal tiers. The tier is a pure function of the sampled
// metrics, so the executor and the UI always agree on what the same
// measurements mean.
package network

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

const (
	defaultProbeURL      = "https://www.gstatic.com/generate_204"
	defaultProbeSamples  = 4
	defaultProbeTimeout  = 5 * time.Second
	defaultProbeInterval = 30 * time.Second
)

// Config represents network observer configuration.
type Config struct {
	// ProbeURL is the endpoint sampled for latency and loss.
	ProbeURL string `yaml:"probe_url"`
	// ProbeSamples is how many requests one probe issues.
	ProbeSamples int `yaml:"probe_samples"`
	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// ProbeInterval is the background sampling period for Start.
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Classify maps sampled metrics to a quality tier. Each lower tier
// relaxes all four thresholds; a connected link that clears none of
// them is poor. Given the same inputs the tier is always the same.
func Classify(connected bool, m types.NetworkMetrics) types.ConnectionQuality {
	if !connected {
		return types.QualityOffline
	}
	switch {
	case m.LatencyMS < 50 && m.BandwidthKBps > 1000 && m.PacketLossPct < 1 && m.JitterMS < 30:
		return types.QualityExcellent
	case m.LatencyMS < 150 && m.BandwidthKBps > 500 && m.PacketLossPct < 3 && m.JitterMS < 50:
		return types.QualityGood
	case m.LatencyMS < 300 && m.BandwidthKBps > 100 && m.PacketLossPct < 8 && m.JitterMS < 100:
		return types.QualityFair
	default:
		return types.QualityPoor
	}
}

// ClassifyTransport estimates a tier from the transport type alone, used
// between active probes when only the platform's connectivity event is
// available.
func ClassifyTransport(networkType string) types.ConnectionQuality {
	switch strings.ToLower(networkType) {
	case "", "none", "unknown":
		return types.QualityOffline
	case "wifi", "ethernet", "5g", "cellular-5g":
		return types.QualityGood
	case "4g", "lte", "cellular-4g", "cellular":
		return types.QualityFair
	case "3g", "cellular-3g", "2g", "cellular-2g":
		return types.QualityPoor
	default:
		return types.QualityFair
	}
}

// Observer owns the NetworkQuality snapshot. It is the only writer;
// every other component reads through State or a subscription.
type Observer struct {
	mu     sync.RWMutex
	state  types.NetworkQuality
	subs   []func(types.NetworkQuality)
	client *http.Client
	cfg    Config
	logger *zap.Logger
	stopCh chan struct{}
	once   sync.Once
}

// NewObserver starts in the offline state; callers feed the first
// connectivity event or probe to bring it up.
func NewObserver(cfg Config, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = defaultProbeURL
	}
	if cfg.ProbeSamples <= 0 {
		cfg.ProbeSamples = defaultProbeSamples
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	return &Observer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		logger: logger.With(zap.String("component", "network")),
		stopCh: make(chan struct{}),
		state: types.NetworkQuality{
			ConnectionQuality: types.QualityOffline,
			LastChecked:       time.Now(),
		},
	}
}

// State returns the current snapshot.
func (o *Observer) State() types.NetworkQuality {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Subscribe registers fn for every state change. fn runs on the
// observer's goroutine; keep it short.
func (o *Observer) Subscribe(fn func(types.NetworkQuality)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
}

// SetConnectivity applies a platform connectivity event. The tier is
// estimated from the transport type until the next active probe updates
// it with measured metrics.
func (o *Observer) SetConnectivity(connected bool, networkType string) {
	quality := types.QualityOffline
	if connected {
		quality = ClassifyTransport(networkType)
		if quality == types.QualityOffline {
			// Transport says connected but the type is unknown; assume a
			// usable link until a probe says otherwise.
			quality = types.QualityFair
		}
	}
	o.update(types.NetworkQuality{
		IsConnected:         connected,
		ConnectionQuality:   quality,
		NetworkType:         networkType,
		IsInternetReachable: connected,
		LastChecked:         time.Now(),
	})
}

func (o *Observer) update(next types.NetworkQuality) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	subs := append([]func(types.NetworkQuality){}, o.subs...)
	o.mu.Unlock()

	if prev.ConnectionQuality != next.ConnectionQuality {
		o.logger.Info("connection quality changed",
			zap.String("from", string(prev.ConnectionQuality)),
			zap.String("to", string(next.ConnectionQuality)))
	}
	for _, fn := range subs {
		fn(next)
	}
}

// Probe actively samples the probe URL and reclassifies from measured
// latency, bandwidth, loss, and jitter. All samples failing means the
// internet is unreachable regardless of what the transport reports.
func (o *Observer) Probe(ctx context.Context) (types.NetworkQuality, error) {
	var (
		latencies  []float64
		totalBytes int64
		failed     int
		start      = time.Now()
	)

	for i := 0; i < o.cfg.ProbeSamples; i++ {
		sampleStart := time.Now()
		n, err := o.sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return o.State(), errors.Wrap(errors.ErrCodeOperationTimeout, "probe cancelled", ctx.Err()).
					WithComponent("network")
			}
			failed++
			continue
		}
		latencies = append(latencies, float64(time.Since(sampleStart).Milliseconds()))
		totalBytes += n
	}

	prev := o.State()
	if len(latencies) == 0 {
		next := types.NetworkQuality{
			IsConnected:       prev.IsConnected,
			ConnectionQuality: types.QualityOffline,
			NetworkType:       prev.NetworkType,
			LastChecked:       time.Now(),
		}
		o.update(next)
		return next, nil
	}

	elapsed := time.Since(start).Seconds()
	metrics := types.NetworkMetrics{
		LatencyMS:     mean(latencies),
		JitterMS:      jitter(latencies),
		PacketLossPct: float64(failed) / float64(o.cfg.ProbeSamples) * 100,
	}
	if elapsed > 0 {
		metrics.BandwidthKBps = float64(totalBytes) / 1024 / elapsed
	}

	next := types.NetworkQuality{
		IsConnected:         true,
		ConnectionQuality:   Classify(true, metrics),
		NetworkType:         prev.NetworkType,
		IsInternetReachable: true,
		Metrics:             metrics,
		LastChecked:         time.Now(),
	}
	o.update(next)
	return next, nil
}

func (o *Observer) sample(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.ProbeURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 500 {
		return 0, errors.NewError(errors.ErrCodeNetworkError, "probe endpoint unavailable")
	}
	return n, nil
}

// Start probes on the configured interval until Close.
func (o *Observer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(o.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := o.Probe(ctx); err != nil {
					o.logger.Debug("background probe failed", zap.Error(err))
				}
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the background probe loop.
func (o *Observer) Close() {
	o.once.Do(func() { close(o.stopCh) })
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// jitter is the mean absolute difference between successive latency
// samples.
func jitter(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(xs)-1)
}
