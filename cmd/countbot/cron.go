package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/app"
	"github.com/mozhuanzuojing/CountBot/internal/cron"
)

var (
	cronConfigPath string
	cronAddName    string
	cronAddMessage string
	cronAddChannel string
	cronAddChatID  string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler, cleanup, err := openScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		jobs := scheduler.ListJobs()
		if len(jobs) == 0 {
			fmt.Println("No jobs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS\tRUNS")
		for _, job := range jobs {
			next := "-"
			if job.NextRun != nil {
				next = job.NextRun.Format(time.RFC3339)
			}
			status := string(job.LastStatus)
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\t%d\n",
				job.ID, job.Name, job.Schedule, job.Enabled, next, status, job.RunCount)
		}
		return w.Flush()
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add <schedule>",
	Short: "Add a job",
	Long: `Add a scheduled job. The schedule is a 5-field cron expression or a
descriptor like @daily. The message is processed by the agent when the
job fires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cronAddName == "" || cronAddMessage == "" {
			return fmt.Errorf("--name and --message are required")
		}
		if (cronAddChannel == "") != (cronAddChatID == "") {
			return fmt.Errorf("--channel and --chat-id must be set together")
		}

		scheduler, cleanup, err := openScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := scheduler.AddJob(agent.Job{
			Name:     cronAddName,
			Schedule: args[0],
			Message:  cronAddMessage,
			Enabled:  true,
			Channel:  cronAddChannel,
			ChatID:   cronAddChatID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Added job %s (%s)\n", job.ID, job.Name)
		if job.NextRun != nil {
			fmt.Printf("Next run: %s\n", job.NextRun.Format(time.RFC3339))
		}
		return nil
	},
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler, cleanup, err := openScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := scheduler.RemoveJob(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed job %s\n", args[0])
		return nil
	},
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(args[0], true) },
}

var cronDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(args[0], false) },
}

var cronRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduler, cleanup, err := openScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := scheduler.GetJob(args[0])
		if err != nil {
			return err
		}
		if err := scheduler.RunJobNow(job.ID); err != nil {
			return err
		}

		// Manual runs are fire-and-wait: poll until the run is recorded.
		fmt.Printf("Running job %s...\n", job.Name)
		deadline := time.Now().Add(10 * time.Minute)
		for time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
			current, err := scheduler.GetJob(job.ID)
			if err != nil {
				return err
			}
			if current.RunCount > job.RunCount {
				if current.LastStatus == agent.JobStatusError {
					return fmt.Errorf("job failed: %s", current.LastError)
				}
				fmt.Println("Job completed")
				return nil
			}
		}
		return fmt.Errorf("timed out waiting for job to complete")
	},
}

func setJobEnabled(jobID string, enabled bool) error {
	scheduler, cleanup, err := openScheduler()
	if err != nil {
		return err
	}
	defer cleanup()

	job, err := scheduler.SetEnabled(jobID, enabled)
	if err != nil {
		return err
	}

	state := "disabled"
	if job.Enabled {
		state = "enabled"
	}
	fmt.Printf("Job %s (%s) is now %s\n", job.ID, job.Name, state)
	return nil
}

// openScheduler builds the application far enough to administer jobs
// without starting the wake loop.
func openScheduler() (*cron.Scheduler, func(), error) {
	cfg, log, err := loadApp(cronConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Scheduler.Enabled {
		return nil, nil, fmt.Errorf("scheduler is disabled in configuration")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build application: %w", err)
	}
	return a.Scheduler(), func() { _ = a.Stop() }, nil
}

func init() {
	cronCmd.PersistentFlags().StringVarP(&cronConfigPath, "config", "c", defaultConfigPath, "config file path")
	cronAddCmd.Flags().StringVar(&cronAddName, "name", "", "job name")
	cronAddCmd.Flags().StringVar(&cronAddMessage, "message", "", "instruction for the agent")
	cronAddCmd.Flags().StringVar(&cronAddChannel, "channel", "", "delivery channel")
	cronAddCmd.Flags().StringVar(&cronAddChatID, "chat-id", "", "delivery chat id")

	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronDisableCmd)
	cronCmd.AddCommand(cronRunCmd)
}
