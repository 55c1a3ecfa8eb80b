// Command paymentdriverd runs the ERC-20 payment driver engine: it loads a
// TOML chain config, opens the MySQL-backed store, and drives every
// configured account's transfers to confirmation until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/golemfactory/erc20-payment-driver-go/internal/config"
	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/runtime"
	"github.com/golemfactory/erc20-payment-driver-go/internal/signer"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
)

var logger = logging.NewModuleLogger("paymentdriverd")

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the TOML chain/engine configuration file",
		Value: "config.toml",
	}
	dsnFlag = cli.StringFlag{
		Name:   "dsn",
		Usage:  "MySQL data source name for the transfer/transaction store",
		EnvVar: "ERC20_PAY_DSN",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "trace|debug|info|warn|error|crit",
		Value: "info",
	}
	skipServiceLoopFlag = cli.BoolFlag{
		Name:  "skip-service-loop",
		Usage: "construct the runtime without spawning any background task, for diagnostic one-shot invocations",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "paymentdriverd"
	app.Usage = "ERC-20 payment driver engine"
	app.Flags = []cli.Flag{configFlag, dsnFlag, logLevelFlag, skipServiceLoopFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logging.SetLevelFromString(c.String(logLevelFlag.Name))

	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("load config: %v", err), 1)
	}

	dsn := c.String(dsnFlag.Name)
	if dsn == "" {
		return cli.NewExitError("missing -dsn (or ERC20_PAY_DSN)", 1)
	}
	st, err := store.Open("mysql", dsn)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("open store: %v", err), 1)
	}
	defer st.Close()

	signers := make([]signer.Signer, 0, len(cfg.PrivateKeys))
	for _, hexKey := range cfg.PrivateKeys {
		s, err := signer.NewLocalSigner(hexKey)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("load private key: %v", err), 1)
		}
		signers = append(signers, s)
	}
	if len(signers) == 0 {
		return cli.NewExitError("no private keys configured (set ETH_PRIVATE_KEYS)", 1)
	}

	rt, err := runtime.New(cfg, runtime.Options{
		Store:           st,
		Signers:         signers,
		SkipServiceLoop: c.Bool(skipServiceLoopFlag.Name),
	})
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("build runtime: %v", err), 1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := config.Watch(ctx, c.String(configFlag.Name), func(reloaded *config.Config) {
		logger.Info("configuration file changed; restart the process to apply it",
			"chains", len(reloaded.Chains))
	}); err != nil {
		logger.Warn("config hot-reload watch failed to start", "err", err)
	}

	logger.Info("paymentdriverd starting", "chains", len(cfg.Chains), "accounts", len(signers))
	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		return cli.NewExitError(fmt.Sprintf("runtime exited: %v", err), 1)
	}
	logger.Info("paymentdriverd stopped cleanly")
	return nil
}
