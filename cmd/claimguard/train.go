package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/anomaly"
	"github.com/opensource-finance/claimguard/internal/domain"
)

type trainOptions struct {
	out      string
	rows     int
	trees    int
	seed     uint64
	holdout  int
	validate bool
}

func newTrainCmd(a *app) *cobra.Command {
	opts := &trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the anomaly model on synthetic claims and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return runTrain(a, cfg.Model, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "model output path (default model.path)")
	cmd.Flags().IntVar(&opts.rows, "rows", 0, "synthetic training rows (default model.trainingRows)")
	cmd.Flags().IntVar(&opts.trees, "trees", 0, "number of trees (default model.trees)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "training seed (default model.seed)")
	cmd.Flags().IntVar(&opts.holdout, "holdout", 1000, "synthetic rows used to validate the model")
	cmd.Flags().BoolVar(&opts.validate, "validate", true, "report detection rates on a synthetic holdout")
	return cmd
}

func runTrain(a *app, mc domain.ModelConfig, opts *trainOptions) error {
	if opts.out != "" {
		mc.Path = opts.out
	}
	if opts.rows > 0 {
		mc.TrainingRows = opts.rows
	}
	if opts.trees > 0 {
		mc.Trees = opts.trees
	}
	if opts.seed != 0 {
		mc.Seed = opts.seed
	}
	if mc.Path == "" {
		return fmt.Errorf("no model path: set --out or model.path")
	}

	m, err := anomaly.Train(mc)
	if err != nil {
		return err
	}
	if err := anomaly.SaveFile(mc.Path, m); err != nil {
		return err
	}
	slog.Info("anomaly model saved", "path", mc.Path, "trees", len(m.Trees))

	fmt.Fprintf(a.stdout, "model:      %s\n", mc.Path)
	fmt.Fprintf(a.stdout, "trees:      %d\n", len(m.Trees))
	fmt.Fprintf(a.stdout, "score range: [%.4f, %.4f]\n", m.MinScore, m.MaxScore)

	if !opts.validate || opts.holdout <= 0 {
		return nil
	}

	// a different seed keeps the holdout disjoint from the training draw
	rows, labels := anomaly.Synthetic(opts.holdout, mc.Seed+1)
	var c confusion
	for i, row := range rows {
		score, err := m.Decision(row)
		if err != nil {
			return err
		}
		c.add(score < 0, labels[i])
	}
	c.print(a.stdout, "outlier", "inlier")
	return nil
}
