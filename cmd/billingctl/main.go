package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"reseller-billing/pkg/config"
	"reseller-billing/pkg/db"
	"reseller-billing/pkg/gen"
	"reseller-billing/pkg/redis"
	"reseller-billing/pkg/task"
	"reseller-billing/services/coordinator"
)

const usage = `billingctl operates the reseller billing engine.

Usage:
  billingctl run [--requested-by NAME] [--reason TEXT]
  billingctl status
  billingctl executors
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// keep stdout clean for JSON output
	zap.ReplaceGlobals(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(ctx, args, os.Stdout)
	case "status":
		err = statusCmd(ctx, os.Stdout)
	case "executors":
		err = executorsCmd(ctx, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "billingctl: %v\n", err)
		os.Exit(1)
	}
}

// withApp starts a minimal fx app, populates targets and stops it when fn
// returns.
func withApp(ctx context.Context, opts []fx.Option, fn func() error) error {
	app := fx.New(append(opts, fx.NopLogger, fx.Supply(zap.L()))...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.WithoutCancel(ctx)) }()
	return fn()
}

func runCmd(ctx context.Context, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	requestedBy := flags.String("requested-by", currentUser(), "operator requesting the run")
	reason := flags.String("reason", "", "free text recorded with the request")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var enq task.Enqueuer
	return withApp(ctx, []fx.Option{
		config.Module,
		redis.Module,
		task.Client,
		fx.Populate(&enq),
	}, func() error {
		t, err := task.NewBillingCycleTask(task.BillingCyclePayload{
			RequestedBy: *requestedBy,
			Reason:      *reason,
		})
		if err != nil {
			return err
		}
		info, err := enq.Enqueue(ctx, t)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"task_id": info.ID, "queue": info.Queue})
	})
}

func statusCmd(ctx context.Context, out io.Writer) error {
	var svc *coordinator.Service
	return withApp(ctx, []fx.Option{
		config.Module,
		db.Module,
		gen.Module,
		coordinator.Module,
		fx.Populate(&svc),
	}, func() error {
		st, err := svc.Status(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, st)
	})
}

func executorsCmd(ctx context.Context, out io.Writer) error {
	var svc *coordinator.Service
	return withApp(ctx, []fx.Option{
		config.Module,
		db.Module,
		gen.Module,
		coordinator.Module,
		fx.Populate(&svc),
	}, func() error {
		rows, err := svc.Executors(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, rows)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "billingctl"
}
