package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/app"
	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/logging"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

const (
	sniffLen           = 512
	reviewDrainTimeout = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "proofdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proofdrop",
		Short: "ProofDrop operator CLI",
		Long: `ProofDrop CLI submits registrations from the terminal, lists stored registrations,
inspects the landing page counters, and launches the binaries during development.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newSubmitCmd(),
		newRegistrationsCmd(),
		newCountersCmd(),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

// withApp loads configuration and wires the backends for one command.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init dependencies: %w", err)
	}
	defer deps.Close()
	return fn(deps)
}

func newSubmitCmd() *cobra.Command {
	var name, path string
	var expedite bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Register a participant with a payment proof image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(deps *app.App) error {
				file, err := readSelectedFile(path, deps.Config.MaxFileSize)
				if err != nil {
					return err
				}
				if err := deps.EnableUploads(ctx); err != nil {
					return err
				}
				reviewCtx, cancelReviews := context.WithCancel(ctx)
				defer cancelReviews()
				deps.Start(reviewCtx)
				defer func() {
					drainCtx, cancel := context.WithTimeout(ctx, reviewDrainTimeout)
					defer cancel()
					deps.DrainReviews(drainCtx)
				}()
				form := deps.NewForm()
				form.SetName(name)
				if cmd.Flags().Changed("expedite") {
					form.SetExpedite(expedite)
				}
				if err := form.SelectFile(file); err != nil {
					return err
				}
				out, err := form.Submit(ctx)
				if err != nil {
					var verr *common.ValidationError
					if errors.As(err, &verr) {
						return errors.New(out.Message)
					}
					return fmt.Errorf("%s: %w", out.Message, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.Message)
				return printJSON(cmd.OutOrStdout(), out.Registration)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Participant full name")
	cmd.Flags().StringVar(&path, "file", "", "Path to the payment proof image")
	cmd.Flags().BoolVar(&expedite, "expedite", true, "Request processing within 24h")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readSelectedFile loads at most limit+1 bytes so the validator still sees an
// oversized file as oversized.
func readSelectedFile(path string, limit int64) (model.SelectedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.SelectedFile{}, fmt.Errorf("open proof: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return model.SelectedFile{}, fmt.Errorf("read proof: %w", err)
	}
	sniff := data
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	return model.SelectedFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(sniff),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func newRegistrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrations",
		Short: "Inspect stored registrations",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List registrations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(deps *app.App) error {
				regs, err := deps.Store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSECURE24H\tTIMESTAMP\tPROOF")
				for _, r := range regs {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", r.ID, r.FullName, r.Secure24h, r.Timestamp.Format(time.RFC3339), r.Proof)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum rows to print (0 for all)")
	cmd.AddCommand(list)
	return cmd
}

func newCountersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Show or reset the landing page counters",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored counter values",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(deps *app.App) error {
					warnInMemory(deps)
					return printJSON(cmd.OutOrStdout(), deps.Counter.Snapshot())
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the counters to their start values",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(deps *app.App) error {
					warnInMemory(deps)
					v, err := deps.Counter.Reset(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), v)
				})
			},
		},
	)
	return cmd
}

func warnInMemory(deps *app.App) {
	if deps.Config.RedisAddr == "" {
		deps.Log.Warn("PROOFDROP_REDIS_ADDR not set, counters are not shared with the server", zap.String("hint", "set it to the server's Redis"))
	}
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), "go", goTestArgs(args, race, cover)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func goTestArgs(pkgs []string, race, cover bool) []string {
	if len(pkgs) == 0 {
		pkgs = []string{"./..."}
	}
	args := []string{"test"}
	if race {
		args = append(args, "-race")
	}
	if cover {
		args = append(args, "-cover")
	}
	return append(args, pkgs...)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
