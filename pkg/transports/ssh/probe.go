package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeCommand is run on every host; its output names the host.
const DefaultProbeCommand = "hostname"

// Target is one host to probe.
type Target struct {
	Name       string
	Address    string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string
}

// Result is the outcome of probing one target.
type Result struct {
	Target    Target
	Reachable bool
	// Hostname is the output of the probe command.
	Hostname string
	Latency  time.Duration
	DryRun   bool
	Err      error
}

// Summary tallies probe results.
type Summary struct {
	Total       int
	Reachable   int
	Unreachable int
}

// Err reports an error naming how many hosts were unreachable.
func (s Summary) Err() error {
	if s.Unreachable == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d hosts unreachable", s.Unreachable, s.Total)
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Reachable {
			s.Reachable++
		} else {
			s.Unreachable++
		}
	}
	return s
}

// Prober connects to each target and runs a command to prove the login
// works end to end.
type Prober struct {
	logger      zerolog.Logger
	concurrency int
	command     string
	dryRun      bool
	timeout     time.Duration
	connect     func(*Config) (Transport, error)
}

// ProbeOption configures a Prober.
type ProbeOption func(*Prober)

// WithConcurrency bounds how many hosts are probed at once.
func WithConcurrency(n int) ProbeOption {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithDryRun reports every target as reachable without connecting.
func WithDryRun(dryRun bool) ProbeOption {
	return func(p *Prober) { p.dryRun = dryRun }
}

// WithCommand replaces the probe command.
func WithCommand(cmd string) ProbeOption {
	return func(p *Prober) { p.command = cmd }
}

// WithTimeout sets the connection timeout per host.
func WithTimeout(d time.Duration) ProbeOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProber creates a Prober.
func NewProber(logger zerolog.Logger, opts ...ProbeOption) *Prober {
	p := &Prober{
		logger:      logger.With().Str("component", "ssh-probe").Logger(),
		concurrency: 4,
		command:     DefaultProbeCommand,
		timeout:     DefaultConnectionTimeout,
		connect: func(cfg *Config) (Transport, error) {
			return NewClient(cfg)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe probes every target and returns results in target order. A failed
// host never stops the others.
func (p *Prober) Probe(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = p.probeOne(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	p.logger.Info().
		Int("total", s.Total).
		Int("reachable", s.Reachable).
		Int("unreachable", s.Unreachable).
		Msg("SSH probe finished")
	return results
}

func (p *Prober) probeOne(ctx context.Context, target Target) Result {
	result := Result{Target: target}
	logger := p.logger.With().
		Str("host", target.Name).
		Str("address", target.Address).
		Int("port", target.Port).
		Logger()

	if p.dryRun {
		logger.Info().Msg("Dry run, SSH connection not attempted")
		result.Reachable = true
		result.DryRun = true
		return result
	}

	cfg := DefaultConfig(target.Address, target.User)
	cfg.Port = target.Port
	cfg.PrivateKeyPath = target.KeyFile
	cfg.ConnectionTimeout = p.timeout
	if target.KnownHosts != "" {
		cfg.KnownHostsPath = target.KnownHosts
		cfg.StrictHostKeyChecking = true
	}

	started := time.Now()
	transport, err := p.connect(cfg)
	if err != nil {
		result.Err = err
		logger.Error().Err(err).Msg("SSH probe failed")
		return result
	}
	defer transport.Close()

	if err := transport.Connect(ctx); err != nil {
		result.Err = err
		logger.Error().Err(err).Msg("SSH connection failed")
		return result
	}

	out, err := transport.Run(ctx, p.command)
	result.Latency = time.Since(started)
	if err != nil {
		result.Err = err
		logger.Error().Err(err).Msg("SSH probe command failed")
		return result
	}

	result.Reachable = true
	result.Hostname = out.Stdout
	logger.Info().
		Str("hostname", result.Hostname).
		Dur("latency", result.Latency).
		Msg("SSH connection successful")
	return result
}
