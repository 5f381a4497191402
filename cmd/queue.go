package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/strategy-cli/internal/config"
	"github.com/sells-group/strategy-cli/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Admission control for queued work",
}

func controllerConfig(c *config.Config) queue.ControllerConfig {
	return queue.ControllerConfig{
		BackpressureEnabled:       c.Queue.BackpressureEnabled,
		BackpressureThreshold:     c.Queue.BackpressureThreshold,
		ShadowReplayEnabled:       c.ShadowReplay.Enabled,
		ShadowBackpressureDisable: c.ShadowReplay.BackpressureDisable,
		TargetWait:                time.Duration(c.Queue.TargetWaitSecs * float64(time.Second)),
		CriticalQueues:            c.Queue.CriticalQueues,
		CriticalLag:               time.Duration(c.Queue.CriticalLagSecs * float64(time.Second)),
		TenantWeights:             queue.TenantWeightsFromMap(c.Queue.TenantWeights),
		BucketCapacity:            c.Queue.BucketCapacity,
		BucketRefillPerSecond:     c.Queue.BucketRefillPerSec,
	}
}

// newController builds the admission controller from config. The returned
// func releases the Redis connection, if any.
func newController() (*queue.Controller, func(), error) {
	closeFn := func() {}
	var probe queue.DepthProbe
	if cfg.Queue.BackpressureEnabled {
		p, client, err := queue.NewRedisDepthProbeFromURL(cfg.Queue.RedisURL, nil)
		if err != nil {
			return nil, nil, err
		}
		probe = p
		closeFn = func() { _ = client.Close() }
	}
	ctrl, err := queue.NewController(controllerConfig(cfg), probe, metrics)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return ctrl, closeFn, nil
}

var queueAdmitCmd = &cobra.Command{
	Use:   "admit",
	Short: "Make one admission decision for a job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("queue"); err != nil {
			return err
		}

		tenant, _ := cmd.Flags().GetString("tenant")
		queueName, _ := cmd.Flags().GetString("queue")
		cost, _ := cmd.Flags().GetInt("cost")
		payload, _ := cmd.Flags().GetString("payload")

		job := queue.Job{TenantID: tenant, QueueName: queueName, Cost: cost}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
				return eris.Wrap(err, "queue admit: parse --payload")
			}
		}

		ctrl, closeCtrl, err := newController()
		if err != nil {
			return err
		}
		defer closeCtrl()

		decision, err := ctrl.Admit(ctx, job, time.Now())
		if err != nil {
			return eris.Wrap(err, "queue admit")
		}
		return writeJSON(cmd.OutOrStdout(), decision)
	},
}

func init() {
	queueAdmitCmd.Flags().String("tenant", "default", "tenant submitting the job")
	queueAdmitCmd.Flags().String("queue", queue.ShadowReplayQueue, "target queue")
	queueAdmitCmd.Flags().Int("cost", 1, "tokens the job consumes")
	queueAdmitCmd.Flags().String("payload", "", "optional JSON object attached to the job")

	queueCmd.AddCommand(queueAdmitCmd)
	rootCmd.AddCommand(queueCmd)
}
