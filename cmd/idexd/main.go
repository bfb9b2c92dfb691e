// idexd is the IDEX host daemon. It loads the machine configuration,
// assembles the dual-carriage coordination core and serves gcode from
// stdin and from the HTTP/WebSocket API.
//
// Usage:
//
//	idexd -config ~/printer.cfg [options]
//
// Options:
//
//	-config string    Machine configuration file (required)
//	-api string       API server address (default ":7125")
//	-loglevel string  Log level: debug, info, warn, error (default "info")
//	-logfile string   Log file path with rotation (default: stdout)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"idex-host/pkg/api"
	"idex-host/pkg/config"
	"idex-host/pkg/events"
	"idex-host/pkg/gcode"
	"idex-host/pkg/idex"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

func main() {
	configFile := flag.String("config", "", "Machine configuration file (required)")
	apiAddr := flag.String("api", ":7125", "API server address")
	logLevel := flag.String("loglevel", "info", "Log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "Log file path (default: stdout)")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New("idexd")
	logger.SetLevel(log.ParseLevel(*logLevel))
	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Path: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		logger.SetWriter(w)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.WithError(err).Error("config load failed")
		os.Exit(1)
	}
	machine, err := config.ParseMachineConfig(cfg)
	if err != nil {
		logger.WithError(err).Error("config parse failed")
		os.Exit(1)
	}
	for _, sec := range cfg.GetUnusedSections() {
		logger.Warn("unused config section [%s]", sec)
	}

	logger.Info("IDEX host starting")
	logger.Info("axis: %s, safe distance: %.3f", machine.DualCarriage.Axis, machine.DualCarriage.SafeDistance)

	bus := events.NewBus(0)
	solver := motion.NewSimSolver()
	ctrl := idex.NewController(machine, solver, bus, logger.WithPrefix("idex"))
	disp := gcode.NewDispatcher(ctrl, logger.WithPrefix("gcode"))

	h := newHost(ctrl, disp)
	server := api.New(api.Config{Addr: *apiAddr, Host: h, Bus: bus}, logger.WithPrefix("api"))
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received %s, shutting down", sig)
			server.Stop()
			return
		case line, ok := <-lines:
			if !ok {
				logger.Info("stdin closed, shutting down")
				server.Stop()
				return
			}
			if err := h.ExecuteGCode(line); err != nil {
				fmt.Printf("!! %s\n", err)
				continue
			}
			fmt.Println("ok")
		}
	}
}
