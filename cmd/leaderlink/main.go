package main

import (
	"errors"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/2se/leaderlink/cluster"
	"github.com/2se/leaderlink/common/security"
	"github.com/2se/leaderlink/config"
	lhttp "github.com/2se/leaderlink/http"
	"github.com/2se/leaderlink/responder"
)

var NoPeerConfigErr = errors.New("no [peer] section in config")

func main() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// flags may come from the environment, optionally through .env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() (app *cli.App) {
	app = cli.NewApp()
	app.Version = DisplayVersion
	app.Name = DisplayName
	app.Usage = Usage
	app.UsageText = UsageText
	app.Description = DescriptionText
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "c,config",
			Usage:  ConfigUsage,
			EnvVar: EnvConfigKey,
		},

		cli.StringFlag{
			Name:  FlagPprofKey,
			Usage: PprofUsage,
		},

		cli.StringFlag{
			Name:   FlagLoglvlKey,
			Usage:  LoglvlUsage,
			EnvVar: EnvLoglvlKey,
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "leader",
			Usage:  "connect to the configured peers and lead them",
			Action: runLeader,
		},
		{
			Name:   "peer",
			Usage:  "accept a leader on the configured address",
			Action: runPeer,
		},
	}
	return app
}

func setup(cliCtx *cli.Context) (*config.Config, func()) {
	setLogLevel(cliCtx)

	configPath := cliCtx.GlobalString(FlagConfigKey)
	log.Printf("in param config path: [%s]", configPath)
	cnf, err := config.Load(configPath)
	if err != nil || cnf == nil || cnf.ClusterCnf == nil {
		log.Fatalf("failed to load config file. may be error here: %v or else cluster config is nil", err)
	}
	log.Debugf("loaded config info: %s", cnf)

	if pprofFile := cliCtx.GlobalString(FlagPprofKey); len(pprofFile) > 0 {
		return cnf, runPprof(pprofFile)
	}
	return cnf, func() {}
}

func runLeader(cliCtx *cli.Context) error {
	cnf, done := setup(cliCtx)
	defer done()

	node, err := cluster.NewNode(cnf.ClusterCnf)
	if err != nil {
		log.Fatalf("failed to initial cluster. cause: %v", err)
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Shutdown()

	stop := signalHandler()
	if cnf.HttpCnf != nil && cnf.HttpCnf.Listen != "" {
		httpStop := make(chan bool, 1)
		go func() {
			if err := lhttp.ListenAndServe(cnf.HttpCnf.Listen, node, httpStop); err != nil {
				log.Errorf("%v\n", err)
			}
		}()
		defer func() { httpStop <- true }()
	}

	select {
	case <-stop:
	case <-node.Demoted():
		log.Warn("another leader is running, stopping")
	}
	return nil
}

func runPeer(cliCtx *cli.Context) error {
	cnf, done := setup(cliCtx)
	defer done()

	if cnf.PeerCnf == nil || cnf.PeerCnf.Listen == "" {
		return NoPeerConfigErr
	}

	opts := []responder.Option{responder.WithDatabases(cnf.PeerCnf.Databases...)}
	if cnf.PeerCnf.Leader {
		opts = append(opts, responder.AsLeader())
	}
	key := security.DeriveKey(cnf.ClusterCnf.SecurityKey, cnf.ClusterCnf.Name)
	r := responder.New(cnf.ClusterCnf.Name, key, opts...)

	stop := signalHandler()
	go func() {
		<-stop
		r.Close()
	}()

	if err := r.ListenAndServe(cnf.PeerCnf.Listen); err != nil && !errors.Is(err, responder.ServerClosedErr) {
		return err
	}
	return nil
}

// runPprof starts CPU profiling; the returned func stops it and writes the
// heap profile.
func runPprof(pprofFile string) func() {
	log.Infof("pprof enabled. and it is path: %s", pprofFile)

	cpuf, err := os.Create(pprofFile + ".cpu")
	if err != nil {
		log.Fatal("Failed to create CPU pprof file: ", err)
	}

	memf, err := os.Create(pprofFile + ".mem")
	if err != nil {
		log.Fatal("Failed to create Mem pprof file: ", err)
	}

	pprof.StartCPUProfile(cpuf)

	return func() {
		pprof.StopCPUProfile()
		pprof.WriteHeapProfile(memf)
		cpuf.Close()
		memf.Close()
		log.Infof("Profiling info saved to '%s.(cpu|mem)'", pprofFile)
	}
}

func setLogLevel(cliCtx *cli.Context) {
	lglvl := cliCtx.GlobalString(FlagLoglvlKey)
	switch strings.ToLower(lglvl) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func signalHandler() <-chan bool {
	stop := make(chan bool, 1)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is
		sig := <-signchan
		log.Infof("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}
