// Command riskctl drives a running riskwatch server: it triggers jobs,
// reads job history and inspects the scoring configuration.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mbd888/riskwatch/internal/detection"
)

const defaultServer = "http://127.0.0.1:8080"

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	if err := newApp().Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "riskctl",
		Usage: "Operate a riskwatch server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   defaultServer,
				Usage:   "riskwatch base URL",
				Sources: cli.EnvVars("RISKCTL_SERVER"),
			},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Commands: []*cli.Command{
			featuresCommand(),
			detectCommand(),
			historyCommand(),
			stateCommand(),
			configCommand(),
			accountCommand(),
			userCommand(),
			flaggedCommand(),
		},
	}
}

func featuresCommand() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "Run the feature computation job",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "window-days", Usage: "lookback window in days (server default when 0)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			in := map[string]any{}
			if days := c.Int("window-days"); days > 0 {
				in["window_days"] = days
			}
			job, err := clientFor(c).runJob(ctx, "/v1/jobs/features", in)
			return reportJob(c, job, err)
		},
	}
}

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Run the detection job",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "skip-cooldown", Usage: "evaluate users regardless of cooldown"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			in := map[string]any{"skip_cooldown": c.Bool("skip-cooldown")}
			job, err := clientFor(c).runJob(ctx, "/v1/jobs/detection", in)
			return reportJob(c, job, err)
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent job runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.StringFlag{Name: "cursor", Usage: "next_cursor from a previous page"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := pagePath("/v1/jobs/history", c.Int("limit"), c.String("cursor"))
			var out historyResponse
			if err := clientFor(c).request(ctx, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printHistory(out)
			return nil
		},
	}
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the job runner state",
		Action: func(ctx context.Context, c *cli.Command) error {
			var out stateResponse
			if err := clientFor(c).request(ctx, http.MethodGet, "/v1/jobs/state", nil, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			fmt.Printf("state: %s\n", out.State)
			if out.LastJob != nil {
				printJob(*out.LastJob)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Scoring configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the active scoring configuration",
				Action: func(ctx context.Context, c *cli.Command) error {
					var out struct {
						Config map[string]any `json:"config"`
					}
					if err := clientFor(c).request(ctx, http.MethodGet, "/v1/config", nil, &out); err != nil {
						return err
					}
					return printJSON(out.Config)
				},
			},
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:      "account",
		Usage:     "Assess one account from its stored fact",
		ArgsUsage: "<account-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("account id is required")
			}
			var out map[string]any
			if err := clientFor(c).request(ctx, http.MethodGet, "/v1/accounts/"+escape(id)+"/risk", nil, &out); err != nil {
				return err
			}
			return printJSON(out["assessment"])
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:      "user",
		Usage:     "Aggregate one user's account assessments",
		ArgsUsage: "<user-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("user id is required")
			}
			var out map[string]any
			if err := clientFor(c).request(ctx, http.MethodGet, "/v1/users/"+escape(id)+"/risk", nil, &out); err != nil {
				return err
			}
			return printJSON(out["assessment"])
		},
	}
}

func flaggedCommand() *cli.Command {
	return &cli.Command{
		Name:  "flagged",
		Usage: "List flagged users, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.StringFlag{Name: "cursor"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := pagePath("/v1/flagged", c.Int("limit"), c.String("cursor"))
			var out flaggedResponse
			if err := clientFor(c).request(ctx, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printFlagged(out)
			return nil
		},
	}
}

// reportJob prints whatever result came back, then surfaces err.
func reportJob(c *cli.Command, job *detection.JobResult, err error) error {
	if job != nil {
		if c.Bool("json") {
			if perr := printJSON(jobResponse{Job: *job}); perr != nil {
				return perr
			}
		} else {
			printJob(*job)
		}
	}
	return err
}

func clientFor(c *cli.Command) *apiClient {
	return newAPIClient(c.String("server"))
}
