// Command flight-computer runs flight phase detection and pyro channel control
// for a model rocket, with MQTT telemetry and an HTTP status page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/flight-computer/internal/config"
	"github.com/sweeney/flight-computer/internal/event"
	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/gpio"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/mqtt"
	"github.com/sweeney/flight-computer/internal/pyro"
	"github.com/sweeney/flight-computer/internal/sim"
	"github.com/sweeney/flight-computer/internal/status"
	"github.com/sweeney/flight-computer/internal/web"
)

// Task cadences, in flight time.
const (
	imuPeriod    = 10 * time.Millisecond
	sensorPeriod = 100 * time.Millisecond
	pyroPeriod   = 100 * time.Millisecond
)

// Simulated flights launch this long after start and are armed simArmLead
// before launch.
const (
	simLaunchDelay = 30 * time.Second
	simArmLead     = 5 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration (empty uses built-in defaults)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	wsBroker := flag.String("ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from the configured broker, "off" disables)`)

	flag.Parse()

	if err := run(*configPath, *printConfig, *logLevel, *wsBroker); err != nil {
		logger := log.WithComponent("main")
		logger.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string, printConfig bool, logLevel, wsFlag string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	log.Configure(log.Config{Level: logLevel})
	logger := log.WithComponent("main")

	if printConfig {
		b, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}

	session := uuid.NewString()
	now := time.Now
	interval := func(d time.Duration) time.Duration { return d }

	var (
		lines []gpio.Channel
		src   sensorSource
		deps  []flight.Dependency
		armAt time.Time
	)
	if cfg.Sim.Enable {
		wall := time.Now()
		clock := sim.NewClock(wall, cfg.Sim.Speed, nil)
		profile := sim.Default(wall.Add(simLaunchDelay))
		profile.MainAlt = cfg.Sim.MainAlt
		profile.Noise = cfg.Sim.Noise
		source := sim.NewSource(profile, clock)

		src = source
		deps = append(deps, source)
		now = clock.Now
		interval = clock.Interval
		armAt = profile.Launch.Add(-simArmLead)
		lines, _ = gpio.NewFakeBank(len(cfg.Pyro.Channels), true)
		logger.Info().Str(log.FieldEvent, "sim.enabled").Float64("speed", cfg.Sim.Speed).
			Time("launch", profile.Launch).Msg("simulated flight")
	} else {
		var err error
		lines, err = gpio.NewRealBank(cfg.Hardware.GPIOChip, cfg.Hardware.Channels)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		logger.Warn().Str(log.FieldEvent, "sensors.absent").
			Msg("no sensor drivers attached; running continuity and test-fire only")
	}
	defer func() {
		if err := gpio.CloseAll(lines); err != nil {
			logger.Error().Err(err).Str(log.FieldEvent, "gpio.close_failed").Msg("failed to release igniter lines")
		}
	}()

	var pub mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub = mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Session:     session,
		})
		defer pub.Close()
	}

	ws := resolveWSBroker(wsFlag, cfg.MQTT.Broker)
	sys, err := newSystem(cfg, session, now, lines, pub, ws, deps...)
	if err != nil {
		return err
	}
	sys.src = src
	sys.armAt = armAt
	sys.interval = interval

	var watcher *config.Watcher
	if configPath != "" {
		watcher = config.NewWatcher(cfg, configPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return sys.run(context.Background(), sigCh, watcher)
}

// sensorSource produces samples for the flight machine. Hardware drivers
// are external producers; the simulator implements it.
type sensorSource interface {
	Sample() sim.Samples
}

// system owns every component and the tasks that drive them.
type system struct {
	cfg      config.Config
	wsBroker string
	now      func() time.Time
	interval func(time.Duration) time.Duration
	logger   zerolog.Logger

	bus       *event.Bus
	machine   *flight.Machine
	pyro      *pyro.Controller
	tracker   *status.Tracker
	pub       mqtt.Publisher // nil when telemetry is disabled
	conn      mqtt.ConnectionStatus
	forwarder *mqtt.Forwarder

	src   sensorSource
	armAt time.Time // zero once the simulated auto-arm has happened
}

func newSystem(cfg config.Config, session string, now func() time.Time, lines []gpio.Channel,
	pub mqtt.Publisher, wsBroker string, deps ...flight.Dependency) (*system, error) {
	s := &system{
		cfg:      cfg,
		wsBroker: wsBroker,
		now:      now,
		interval: func(d time.Duration) time.Duration { return d },
		logger:   log.WithComponent("main"),
		pub:      pub,
	}

	s.bus = event.NewBus(event.Options{Now: now, QueueDepth: 32})
	s.machine = flight.NewMachine(s.bus, flight.Options{
		BaroWindow:      cfg.Flight.BaroWindow,
		GPSWindow:       cfg.Flight.GPSWindow,
		AccelWindow:     cfg.Flight.AccelWindow,
		Step:            sensorPeriod,
		LowBatteryVolts: cfg.Battery.LowVolts,
		Dependencies:    deps,
	})

	ctl, err := pyro.NewController(s.bus, lines, s.machine, pyro.Options{
		PulseWidth: cfg.Pyro.PulseWidth,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("init pyro: %w", err)
	}
	if err := ctl.Configure(cfg.Pyro.Channels, cfg.FlightComputer()); err != nil {
		return nil, fmt.Errorf("configure pyro: %w", err)
	}
	s.pyro = ctl
	s.machine.SetContinuityChecker(ctl)

	s.tracker = status.NewTracker(now(), session, statusConfig(cfg, wsBroker))
	s.tracker.SetClock(now)
	if net := readNetworkInfo(); net != nil {
		s.tracker.SetNetwork(net)
	}

	if err := ctl.Subscribe(s.bus); err != nil {
		return nil, fmt.Errorf("subscribe pyro: %w", err)
	}
	if err := s.tracker.Subscribe(s.bus); err != nil {
		return nil, fmt.Errorf("subscribe status: %w", err)
	}
	if pub != nil {
		s.conn, _ = pub.(mqtt.ConnectionStatus)
		s.forwarder = mqtt.NewForwarder(pub, 0, nil)
		if err := s.forwarder.Subscribe(s.bus); err != nil {
			return nil, fmt.Errorf("subscribe telemetry: %w", err)
		}
	}
	return s, nil
}

func statusConfig(cfg config.Config, wsBroker string) status.Config {
	return status.Config{
		Mode:        cfg.Mode,
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		HTTPAddr:    cfg.HTTP.Addr,
		WSBroker:    wsBroker,
		Sim:         cfg.Sim.Enable,
	}
}

// run starts the machine and every task, and blocks until a signal arrives
// or a task fails. watcher may be nil.
func (s *system) run(parent context.Context, sig <-chan os.Signal, watcher *config.Watcher) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	s.machine.Start()
	s.announce()
	s.refreshStatus()
	s.publishSystem("STARTUP", "", true)

	g.Go(func() error { return s.bus.Run(gctx) })
	if s.forwarder != nil {
		g.Go(func() error { return s.forwarder.Run(gctx) })
	}
	if s.src != nil {
		g.Go(func() error { return s.every(gctx, imuPeriod, s.stepIMU) })
		g.Go(func() error { return s.every(gctx, sensorPeriod, s.stepSensors) })
	}
	g.Go(func() error { return s.every(gctx, pyroPeriod, s.stepPyro) })

	if hb := s.cfg.MQTT.Heartbeat; hb > 0 && s.pub != nil {
		g.Go(func() error {
			return loop(gctx, time.NewTicker(hb), func() {
				if net := readNetworkInfo(); net != nil {
					s.tracker.SetNetwork(net)
				}
				s.publishSystem("HEARTBEAT", "", false)
			})
		})
	}

	if watcher != nil {
		updates := make(chan config.Config, 1)
		watcher.Subscribe(updates)
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg := <-updates:
					s.applyConfig(cfg)
				}
			}
		})
	}

	if addr := s.cfg.HTTP.Addr; addr != "" {
		srv := web.New(addr, s.tracker, s)
		g.Go(func() error {
			s.logger.Info().Str(log.FieldEvent, "http.listening").Str("addr", addr).Msg("http status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var reason string
	g.Go(func() error {
		select {
		case sg := <-sig:
			reason = signalName(sg)
			s.logger.Info().Str(log.FieldEvent, "shutdown").Str(log.FieldReason, reason).Msg("shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if reason == "" && err != nil {
		reason = "ERROR"
	}
	s.refreshStatus()
	s.publishSystem("SHUTDOWN", reason, true)
	return err
}

// announce queues the START event carrying the build version.
func (s *system) announce() {
	args, err := event.Text(version)
	if err != nil {
		s.logger.Warn().Err(err).Str("version", version).Msg("version too long for START event")
	}
	s.bus.Publish(event.Event{Kind: event.KindStart, Args: args})
}

// every runs fn on a ticker of period flight time until ctx is done.
func (s *system) every(ctx context.Context, period time.Duration, fn func()) error {
	return loop(ctx, time.NewTicker(s.interval(period)), fn)
}

func loop(ctx context.Context, t *time.Ticker, fn func()) error {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

func (s *system) stepIMU() {
	s.machine.IngestIMU(s.src.Sample().IMU)
}

func (s *system) stepSensors() {
	smp := s.src.Sample()
	s.machine.IngestGPS(smp.GPS)
	s.machine.IngestBaro(smp.Baro)
	s.machine.IngestBattery(smp.Battery)
}

func (s *system) stepPyro() {
	now := s.now()
	s.pyro.Tick(now)
	s.maybeAutoArm(now)
	s.refreshStatus()
}

// maybeAutoArm arms a simulated flight shortly before its launch.
func (s *system) maybeAutoArm(now time.Time) {
	if s.armAt.IsZero() || now.Before(s.armAt) || s.machine.Phase() != flight.PhaseDisarmed {
		return
	}
	if err := s.machine.Arm(); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "sim.arm_retry").Msg("auto-arm not ready")
		return
	}
	s.armAt = time.Time{}
}

func (s *system) refreshStatus() {
	phase := s.machine.Phase()
	var armErr string
	if phase == flight.PhaseDisarmed {
		if err := s.machine.CanArm(); err != nil {
			var ae *flight.ArmError
			if errors.As(err, &ae) {
				armErr = ae.Reason
			} else {
				armErr = err.Error()
			}
		}
	}
	est := s.machine.Estimate()
	s.tracker.UpdateFlight(status.Flight{
		Phase:        phase,
		AGL:          est.AGL,
		VertVel:      est.VertVel,
		Burnouts:     s.machine.BurnoutCount(),
		MachLockout:  s.machine.MachLockout(),
		BatteryVolts: s.machine.BatteryVolts(),
		ArmError:     armErr,
	})
	s.tracker.UpdateChannels(s.pyro.Channels())
	s.tracker.SetBusDropped(s.bus.Dropped())
	if s.conn != nil {
		s.tracker.SetMQTTConnected(s.conn.IsConnected())
	}
}

// applyConfig installs a reloaded configuration. Pyro settings only change
// on the ground; a change in flight is refused.
func (s *system) applyConfig(cfg config.Config) {
	phase := s.machine.Phase()
	if phase != flight.PhaseDisarmed && phase != flight.PhaseArmed {
		s.logger.Warn().Str(log.FieldEvent, "config.refused").Str(log.FieldPhase, phase.String()).
			Msg("configuration change ignored in flight")
		return
	}
	if err := s.machine.Disarm(); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "config.refused").Msg("configuration change ignored")
		return
	}
	if err := s.pyro.Configure(cfg.Pyro.Channels, cfg.FlightComputer()); err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "config.apply_failed").Msg("pyro configuration rejected")
		return
	}
	s.cfg.Pyro = cfg.Pyro
	s.cfg.Mode = cfg.Mode
	s.tracker.SetConfig(statusConfig(s.cfg, s.wsBroker))
	s.logger.Info().Str(log.FieldEvent, "config.applied").Str("mode", cfg.Mode).
		Int("channels", len(cfg.Pyro.Channels)).Msg("pyro configuration applied")
}

func (s *system) publishSystem(name, reason string, retained bool) {
	if s.pub == nil {
		return
	}
	snap := s.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := s.pub.PublishSystem(ev); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "mqtt.system_failed").Str("system_event", name).
			Msg("failed to publish system event")
		return
	}
	s.logger.Debug().Str(log.FieldEvent, "mqtt.system_published").Str("system_event", name).Msg("published system event")
}

// Arm, Disarm and TestFire are the web server's controls.

func (s *system) Arm() error { return s.machine.Arm() }

func (s *system) Disarm() error { return s.machine.Disarm() }

func (s *system) TestFire(ch int) bool { return s.pyro.TestFire(ch) }

func signalName(sg os.Signal) string {
	switch sg {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	st := os.Getenv(envNetworkStatus)
	if st == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     st,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the -ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or no
// broker disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil || u.Hostname() == "" {
		logger := log.WithComponent("main")
		logger.Warn().Err(err).Str("broker", broker).Msg("cannot derive websocket broker")
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
