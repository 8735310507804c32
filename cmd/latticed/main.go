// Command latticed is the lattice supervisor daemon: it boots the service
// dependency graph, loads the boot service, starts the control socket and
// metrics listener, and runs the event loop until a shutdown is requested.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lattice-svc/lattice/pkg/ctlproto"
	"github.com/lattice-svc/lattice/pkg/eventbus"
	"github.com/lattice-svc/lattice/pkg/graph"
	"github.com/lattice-svc/lattice/pkg/loopdrv"
	"github.com/lattice-svc/lattice/pkg/obslog"
	"github.com/lattice-svc/lattice/pkg/procexec"
	"github.com/lattice-svc/lattice/pkg/svcconfig"
	"github.com/lattice-svc/lattice/pkg/svcstat"
	"github.com/lattice-svc/lattice/pkg/sysdown"
	"github.com/lattice-svc/lattice/pkg/telemetry"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "latticed",
		Short: "lattice service supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to daemon config file")
	cmd.Flags().StringSlice("service-dirs", nil, "directories to search for service descriptions")
	cmd.Flags().String("boot-service", "", "name of the service to start at boot")
	cmd.Flags().String("control-socket", "", "control protocol unix socket path")
	cmd.Flags().String("log-level", "", "debug, info, warn, or error")
	cmd.Flags().String("metrics-addr", "", "address to serve /metrics on; empty disables it")
	cmd.Flags().String("event-bus-url", "", "NATS URL for the optional event bus; empty disables it")
	_ = v.BindPFlags(cmd.Flags())

	cmd.AddCommand(newServiceCmd(v, &configFile))
	return cmd
}

// newServiceCmd wires kardianos/service so an operator can install latticed
// as a native OS service (systemd unit, launchd plist, Windows service)
// instead of running it directly under another init system. This is
// orthogonal to latticed itself ever acting as PID 1.
func newServiceCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service [install|uninstall|start|stop]",
		Short: "manage latticed as a native OS service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCfg := &service.Config{
				Name:        "latticed",
				DisplayName: "lattice service supervisor",
				Description: "Runs the lattice dependency graph and process supervisor.",
			}
			prg := &serviceProgram{v: v, configFile: *configFile}
			svc, err := service.New(prg, svcCfg)
			if err != nil {
				return err
			}
			return service.Control(svc, args[0])
		},
	}
	return cmd
}

type serviceProgram struct {
	v          *viper.Viper
	configFile string
	cancel     context.CancelFunc
}

func (p *serviceProgram) Start(s service.Service) error {
	go func() {
		_ = run(p.v, p.configFile)
	}()
	return nil
}

func (p *serviceProgram) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func run(v *viper.Viper, configFile string) error {
	settings, err := svcconfig.LoadSettings(v, configFile)
	if err != nil {
		return err
	}

	logger, err := obslog.New(obslog.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		File:   settings.LogFile,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if settings.IsPID1 || os.Getpid() == 1 {
		sysdown.InitPID1(logger)
	}

	set := graph.NewSet(logger)

	sup := procexec.New(logger)

	var ctl *ctlproto.Server
	if settings.ControlSocket != "" {
		ctl, err = ctlproto.Listen(settings.ControlSocket, logger)
		if err != nil {
			return fmt.Errorf("latticed: control socket: %w", err)
		}
		defer ctl.Close()
	}

	var loop *loopdrv.Loop
	dispatch := func(fn func()) {
		if loop != nil {
			loop.Dispatch(fn)
		}
	}

	loader := svcconfig.NewLoader(settings.ServiceDirs, set, sup, logger, dispatch)
	set.SetChainFunc(func(name string) {
		r, err := loader.Resolve(name)
		if err != nil {
			logger.Errorf("latticed: chain-to %q: %v", name, err)
			return
		}
		r.Start()
	})

	reg, metrics := telemetry.New()

	var bus *eventbus.Bus
	if settings.EventBusURL != "" {
		bus, err = eventbus.Connect(settings.EventBusURL, "lattice.events", logger)
		if err != nil {
			logger.Errorf("latticed: event bus disabled, connect failed: %v", err)
		} else {
			defer bus.Close()
		}
	}

	if settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: settings.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("latticed: metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	handler := func(req *ctlproto.Request) {
		handleRequest(req, set, loader, metrics, bus)
	}

	var reqCh chan *ctlproto.Request
	if ctl != nil {
		reqCh = ctl.Requests
	}
	loop = loopdrv.New(set, handler, reqCh)
	loop.OnIdle(func() {
		metrics.Refresh(set)
		if set.ActiveCount() == 0 && set.IsShuttingDown() {
			sysdown.New(logger, nil).Run(pendingShutdownKind)
		}
	})

	sched, err := gocron.NewScheduler()
	if err == nil {
		sched.NewJob(gocron.DurationJob(15*time.Second), gocron.NewTask(func() {
			loop.Dispatch(func() { _ = logger.Sync() })
		}))
		sched.Start()
		defer sched.Shutdown()
	}

	boot, err := loader.Resolve(settings.BootService)
	if err != nil {
		return fmt.Errorf("latticed: loading boot service: %w", err)
	}
	attachListeners(set, metrics, bus, ctl)
	boot.Start()

	loop.Run()
	return nil
}

// attachListeners wires every currently-loaded record to the metrics
// collector, optional event bus, and control-socket broadcaster. Called
// once after the boot service (and everything it recursively resolved)
// has been loaded.
func attachListeners(set *graph.Set, metrics *telemetry.Metrics, bus *eventbus.Bus, ctl *ctlproto.Server) {
	for _, r := range set.All() {
		r.AddListener(metrics)
		if bus != nil {
			r.AddListener(bus)
		}
		if ctl != nil {
			r.AddListener(ctl)
		}
	}
}

// pendingShutdownKind is set by the shutdown control command before
// IsShuttingDown is flipped, so OnIdle knows which terminal action to run
// once the graph quiesces.
var pendingShutdownKind sysdown.Kind

func handleRequest(req *ctlproto.Request, set *graph.Set, loader *svcconfig.Loader, metrics *telemetry.Metrics, bus *eventbus.Bus) {
	switch req.Command {
	case ctlproto.CmdVersion:
		req.Reply(ctlproto.VersionReply{Version: ctlproto.ProtocolVersion})

	case ctlproto.CmdFind:
		withNamed(req, loader, func(r *graph.Record) {
			req.Reply(struct{}{})
		})

	case ctlproto.CmdStart:
		withNamed(req, loader, func(r *graph.Record) {
			metrics.NoteStartRequested(r.Name())
			r.Start()
			req.Reply(struct{}{})
		})

	case ctlproto.CmdStop:
		withFound(req, set, func(r *graph.Record) {
			r.Stop(true)
			req.Reply(struct{}{})
		})

	case ctlproto.CmdRestart:
		withFound(req, set, func(r *graph.Record) {
			r.Restart()
			req.Reply(struct{}{})
		})

	case ctlproto.CmdPin:
		withFound(req, set, func(r *graph.Record) {
			r.PinStart()
			req.Reply(struct{}{})
		})

	case ctlproto.CmdUnpin:
		withFound(req, set, func(r *graph.Record) {
			r.Unpin()
			req.Reply(struct{}{})
		})

	case ctlproto.CmdRelease:
		withFound(req, set, func(r *graph.Record) {
			r.Release(true)
			req.Reply(struct{}{})
		})

	case ctlproto.CmdTrigger:
		withNamed(req, loader, func(r *graph.Record) {
			if tc, ok := loader.Triggers[r.Name()]; ok {
				tc.Trigger()
			}
			req.Reply(struct{}{})
		})

	case ctlproto.CmdList:
		req.Reply(ctlproto.ListReply{Services: toStatusReplies(svcstat.Snapshot(set))})

	case ctlproto.CmdLog:
		var nr ctlproto.NamedRequest
		if unmarshalOrFail(req, &nr) {
			return
		}
		buf, ok := loader.LogBuffers[nr.Name]
		if !ok {
			req.Fail("not-found", fmt.Sprintf("no log buffer for %q", nr.Name))
			return
		}
		req.Reply(ctlproto.LogReply{Lines: buf.Lines()})

	case ctlproto.CmdShutdown:
		var sr ctlproto.ShutdownRequest
		if unmarshalOrFail(req, &sr) {
			return
		}
		kind, err2 := sysdown.ParseKind(sr.Type)
		if err2 != nil {
			req.Fail("bad-request", err2.Error())
			return
		}
		pendingShutdownKind = kind
		set.SetShuttingDown()
		for _, r := range set.All() {
			r.Stop(true)
		}
		req.Reply(struct{}{})

	default:
		req.Fail("bad-request", "unknown command")
	}
}

func withNamed(req *ctlproto.Request, loader *svcconfig.Loader, fn func(r *graph.Record)) {
	var nr ctlproto.NamedRequest
	if unmarshalOrFail(req, &nr) {
		return
	}
	r, err := loader.Resolve(nr.Name)
	if err != nil {
		req.Fail("not-found", err.Error())
		return
	}
	fn(r)
}

func withFound(req *ctlproto.Request, set *graph.Set, fn func(r *graph.Record)) {
	var nr ctlproto.NamedRequest
	if unmarshalOrFail(req, &nr) {
		return
	}
	r, ok := set.Find(nr.Name)
	if !ok {
		req.Fail("not-found", fmt.Sprintf("service %q not loaded", nr.Name))
		return
	}
	fn(r)
}

func unmarshalOrFail(req *ctlproto.Request, out any) bool {
	if err := json.Unmarshal(req.Payload, out); err != nil {
		req.Fail("bad-request", err.Error())
		return true
	}
	return false
}

func toStatusReplies(entries []svcstat.Entry) []ctlproto.StatusReply {
	out := make([]ctlproto.StatusReply, len(entries))
	for i, e := range entries {
		out[i] = ctlproto.StatusReply{
			Name:        e.Name,
			Kind:        e.Kind,
			State:       e.State,
			Desired:     e.Desired,
			RequiredBy:  e.RequiredBy,
			PinnedStart: e.PinnedStart,
			PinnedStop:  e.PinnedStop,
			PID:         e.PID,
			RSSBytes:    e.RSSBytes,
			CPUPct:      e.CPUPct,
		}
	}
	return out
}
