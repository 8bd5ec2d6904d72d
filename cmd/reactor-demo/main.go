// Command reactor-demo prints terminal input delivered by a restartable
// reactor supervisor until the quit key, an interrupt, or the supervisor
// giving up.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/lixenwraith/reactor/audio"
	"github.com/lixenwraith/reactor/config"
	"github.com/lixenwraith/reactor/rrt"
	"github.com/lixenwraith/reactor/service"
	"github.com/lixenwraith/reactor/terminal"
)

var logger = loggo.GetLogger("reactor.demo")

type flags struct {
	configPath  string
	backend     string
	metrics     string
	logDir      string
	debug       bool
	bell        bool
	printConfig bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := gnuflag.NewFlagSet("reactor-demo", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&f.backend, "backend", "", "input backend: raw or screen (overrides config)")
	fs.StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address (overrides config)")
	fs.StringVar(&f.logDir, "log-dir", "logs", "directory for the debug log")
	fs.BoolVar(&f.debug, "debug", false, "write a debug log")
	fs.BoolVar(&f.bell, "bell", false, "chime on key presses")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration and exit")
	if err := fs.Parse(true, args); err != nil {
		return flags{}, err
	}
	if fs.NArg() > 0 {
		return flags{}, errors.NotValidf("argument %q", fs.Arg(0))
	}
	return f, nil
}

// loadConfig applies flag overrides on top of the file or the defaults
func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if f.backend != "" {
		cfg.Terminal.Backend = f.backend
	}
	if f.metrics != "" {
		cfg.Metrics.Listen = f.metrics
	}
	cfg.Terminal.Bell = cfg.Terminal.Bell || f.bell
	return cfg, cfg.Validate()
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "reactor-demo: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "reactor-demo: %v\n", err)
		return 2
	}
	if f.printConfig {
		if err := cfg.Encode(stdout); err != nil {
			fmt.Fprintf(stderr, "reactor-demo: %v\n", err)
			return 1
		}
		return 0
	}

	logFile, err := setupLogging(f.logDir, f.debug)
	if err != nil {
		fmt.Fprintf(stderr, "reactor-demo: %v\n", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "reactor-demo: %v\n", err)
		return 1
	}
	return 0
}

// newSupervisor builds the supervisor for the configured backend
func newSupervisor(cfg config.Config, metrics *rrt.Metrics) (*rrt.Supervisor[terminal.Event], error) {
	opts := append(cfg.SupervisorOptions(), rrt.WithMetrics(metrics))
	switch cfg.Terminal.Backend {
	case config.BackendScreen:
		return rrt.New(terminal.NewScreenFactory(tcell.NewScreen), opts...), nil
	default:
		if err := terminal.ConfigureInput(cfg.InputConfig(int(os.Stdin.Fd())), opts...); err != nil {
			return nil, errors.Trace(err)
		}
		return terminal.Input(), nil
	}
}

// buildHub registers the services the configuration asks for
func buildHub(cfg config.Config, sup *rrt.Supervisor[terminal.Event], metrics *rrt.Metrics) (*service.Hub, *terminal.Service, error) {
	hub := service.NewHub()
	term := terminal.NewService("terminal")
	if err := hub.Register(term, sup); err != nil {
		return nil, nil, err
	}
	if cfg.Terminal.Bell {
		if err := hub.Register(audio.NewService(), sup); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Metrics.Listen != "" {
		if err := hub.Register(newMetricsService(cfg.Metrics.Listen), metrics); err != nil {
			return nil, nil, err
		}
	}
	return hub, term, nil
}

func serve(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	metrics := rrt.NewMetrics(cfg.Metrics.Namespace)
	sup, err := newSupervisor(cfg, metrics)
	if err != nil {
		return err
	}
	hub, term, err := buildHub(cfg, sup, metrics)
	if err != nil {
		return err
	}
	if err := hub.InitAll(); err != nil {
		return err
	}
	if err := hub.StartAll(); err != nil {
		return err
	}
	defer hub.StopAll()
	logger.Infof("started %v with backend %s", hub.Order(), cfg.Terminal.Backend)

	// A screen owns the tty; events only go to the log
	show := func(ev terminal.Event) {
		logger.Debugf("%s", ev)
		if cfg.Terminal.Backend == config.BackendRaw {
			fmt.Fprintf(stdout, "%s\r\n", ev)
		}
	}
	if cfg.Terminal.Backend == config.BackendRaw {
		fmt.Fprintf(stdout, "reading input, press %s to quit\r\n", cfg.Terminal.QuitKey)
	}

	quit := cfg.QuitKey()
	defer func() {
		if lagged := term.Lagged(); lagged > 0 {
			logger.Warningf("dropped %d events", lagged)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-term.Errors():
			return err
		case ev, ok := <-term.Events():
			if !ok {
				select {
				case err := <-term.Errors():
					return err
				default:
					return nil
				}
			}
			if ev.Type == terminal.EventKey && ev.Key == quit {
				return nil
			}
			show(ev)
		}
	}
}
