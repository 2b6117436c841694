// Package commands cmd/toggle-api/commands/root.go
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"

	logrussyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/buildinfo"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/cmdutil"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/metricsutil"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/tcpproxy"
	"github.com/spf13/cobra"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/togglemetrics"
	"github.com/skycoin/dongle-services/pkg/toggle-api/api"
	"github.com/skycoin/dongle-services/pkg/toggle-api/notify"
	"github.com/skycoin/dongle-services/pkg/toggle-api/recovery"
	"github.com/skycoin/dongle-services/pkg/toggle-api/status"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
	"github.com/skycoin/dongle-services/pkg/toggle-api/toggle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/topology"
)

const statusFailure = 1

var (
	confPath     string
	addr         string
	metricsAddr  string
	dongleConfig string
	callbackURL  string
	logLvl       string
	syslogAddr   string
	tag          string
	testing      bool
)

func init() {
	RootCmd.Flags().StringVarP(&confPath, "config", "c", "toggle-api.json", "path of toggle-api config\033[0m")
	RootCmd.Flags().StringVarP(&addr, "addr", "a", "", "address to bind to\033[0m")
	RootCmd.Flags().StringVarP(&metricsAddr, "metrics", "m", "", "address to bind metrics API to\033[0m")
	RootCmd.Flags().StringVarP(&dongleConfig, "dongle-config", "d", "", "path of dongle_config.json\033[0m")
	RootCmd.Flags().StringVar(&callbackURL, "callback", "", "url receiving every toggle result\033[0m")
	RootCmd.Flags().StringVarP(&logLvl, "loglvl", "l", "", "set log level one of: info, error, warn, debug, trace, panic\033[0m")
	RootCmd.Flags().StringVar(&syslogAddr, "syslog", "", "syslog server address. E.g. localhost:514\033[0m")
	RootCmd.Flags().StringVar(&tag, "tag", "toggle_api", "logging tag\033[0m")
	RootCmd.Flags().BoolVarP(&testing, "testing", "t", false, "in-memory state and topology, no host commands except the toggle script\033[0m")
}

// RootCmd contains the root command
var RootCmd = &cobra.Command{
	Use: func() string {
		return strings.Split(filepath.Base(strings.ReplaceAll(strings.ReplaceAll(fmt.Sprintf("%v", os.Args), "[", ""), "]", "")), " ")[0]
	}(),
	Short: "Toggle and status API for cellular dongle proxies.",
	Long: `
	┌┬┐┌─┐┌─┐┌─┐┬  ┌─┐   ┌─┐┌─┐┬
	 │ │ ││ ┬│ ┬│  ├┤ ───├─┤├─┘│
	 ┴ └─┘└─┘└─┘┴─┘└─┘   ┴ ┴┴  ┴`,
	SilenceErrors:         true,
	SilenceUsage:          true,
	DisableSuggestions:    true,
	DisableFlagsInUseLine: true,
	Version:               buildinfo.Version(),
	Run: func(_ *cobra.Command, _ []string) {
		if _, err := buildinfo.Get().WriteTo(os.Stdout); err != nil {
			log.Printf("Failed to output build info: %v", err)
		}

		logger := logging.MustGetLogger(tag)

		conf, err := loadConfig()
		if err != nil {
			logger.WithError(err).Fatal("Invalid config file")
		}

		lvl, err := logging.LevelFromString(conf.LogLevel)
		if err != nil {
			logger.Fatal("Invalid log level")
		}
		logging.SetLevel(lvl)

		if syslogAddr != "" {
			hook, err := logrussyslog.NewSyslogHook("udp", syslogAddr, syslog.LOG_INFO, tag)
			if err != nil {
				logger.Fatalf("Unable to connect to syslog daemon on %v", syslogAddr)
			}
			logging.AddHook(hook)
		}

		ctx, cancel := cmdutil.SignalContext(context.Background(), logger)
		defer cancel()

		states, err := store.New(ctx, conf.Store)
		if err != nil {
			logger.Fatalf("Failed to create store instance: %v", err)
		}
		defer func() {
			if err := states.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close state store.")
			}
		}()

		history, err := store.NewHistory(conf.HistoryPath, logging.MustGetLogger("history"))
		if err != nil {
			logger.Fatalf("Failed to open history: %v", err)
		}
		defer func() {
			if err := history.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close history.")
			}
		}()

		var (
			topo topology.Reader
			svc  topology.ServiceManager
		)
		if testing {
			static := topology.NewStatic()
			topo, svc = static, static
		} else {
			host := topology.NewHost(conf.NetworkPrefix, conf.HostOctet, conf.Recovery.UseSudo, conf.Recovery.RestartTimeout.D())
			topo, svc = host, host
		}

		metricsutil.ServeHTTPMetrics(logger, metricsAddr)

		var m togglemetrics.Metrics
		if metricsAddr == "" {
			m = togglemetrics.NewEmpty()
		} else {
			m = togglemetrics.NewVictoriaMetrics()
		}

		runner := toggle.NewScriptRunner(conf.Toggle.Interpreter, conf.Toggle.Script)
		executor := toggle.NewExecutor(runner, states, history, conf.Toggle.Timeout.D(), logging.MustGetLogger("toggle"))
		executor.SetMetrics(m)
		tracker := toggle.NewTracker(conf.Toggle.Timeout.D(), conf.Toggle.MaxConcurrent)
		toggles := toggle.NewService(tracker, executor)

		egress := status.NewEgress(conf.Probe.PublicHost, conf.Probe.IPEchoURL, conf.Probe.Timeout.D(), logging.MustGetLogger("egress"))
		prober := status.NewSOCKS5Prober("127.0.0.1", conf.Probe.IPEchoURL, conf.Probe.Timeout.D())
		reconciler := status.NewReconciler(conf, states, topo, toggles, prober, egress, history, logging.MustGetLogger("status"))

		if conf.CallbackURL != "" {
			cb, err := notify.NewCallback(conf.CallbackURL, egress.Host, conf.PortOf, logging.MustGetLogger("callback"))
			if err != nil {
				logger.Fatalf("Invalid callback: %v", err)
			}
			executor.SetNotifier(cb)
			defer cb.Wait()
		}

		operator := recovery.NewOperator(conf, topo, svc, history, logging.MustGetLogger("recovery"))
		operator.SetMetrics(m)

		checker := status.NewSOCKS5Prober("127.0.0.1", conf.Probe.IPEchoURL, conf.Watchdog.CheckTimeout.D())
		watchdog := recovery.NewWatchdog(conf, checker, operator, toggles.InProgress, logging.MustGetLogger("watchdog"))
		go watchdog.Run(ctx)

		toggleAPI := api.New(conf, api.Components{
			Toggles:  toggles,
			Status:   reconciler,
			Recovery: operator,
			Watchdog: watchdog,
			History:  history,
		}, logger)

		logger.WithField("addr", conf.Addr).Info("Serving toggle API...")

		go func() {
			if err := tcpproxy.ListenAndServe(conf.Addr, toggleAPI); err != nil {
				logger.Errorf("tcpproxy.ListenAndServe toggleAPI: %v", err)
				cancel()
			}
		}()

		<-ctx.Done()
	},
}

// loadConfig reads the config file, or takes the defaults when it does not
// exist, and applies the flags that were set.
func loadConfig() (*config.Config, error) {
	conf, err := config.ReadConfig(confPath)
	if errors.Is(err, os.ErrNotExist) {
		conf, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if addr != "" {
		conf.Addr = addr
	}
	if metricsAddr == "" {
		metricsAddr = conf.MetricsAddr
	}
	if dongleConfig != "" {
		conf.DongleConfigPath = dongleConfig
	}
	if callbackURL != "" {
		conf.CallbackURL = callbackURL
	}
	if logLvl != "" {
		conf.LogLevel = logLvl
	}
	if testing {
		conf.Store.Type = config.MemoryStore
		conf.HistoryPath = ""
	}
	return conf, conf.Validate()
}

// Execute executes root CLI command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)

		os.Exit(statusFailure)
	}
}
