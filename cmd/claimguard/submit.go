package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/worker"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		req        domain.ClaimRequest
		regionRisk float64
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a claim to the async worker over NATS and wait for its assessment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.EventBus.Type != "nats" {
				return fmt.Errorf("submit needs eventBus.type=nats, got %q", cfg.EventBus.Type)
			}
			if cmd.Flags().Changed("region-risk") {
				req.RegionRisk = &regionRisk
			}

			eventBus, err := bus.New(cfg.EventBus)
			if err != nil {
				return fmt.Errorf("failed to connect to event bus: %w", err)
			}
			defer eventBus.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return submitClaim(ctx, a, eventBus, req)
		},
	}

	cmd.Flags().StringVarP(&req.BeneficiaryID, "beneficiary", "b", "", "beneficiary id")
	cmd.Flags().StringVarP(&req.ShopID, "shop", "s", "", "shop id")
	cmd.Flags().Float64VarP(&req.Quantity, "quantity", "q", 0, "claimed quantity")
	cmd.Flags().Float64Var(&regionRisk, "region-risk", domain.DefaultRegionRisk, "region risk in [0,1]")
	cmd.Flags().Float64Var(&req.Timestamp, "timestamp", 0, "claim time in unix seconds (default now)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the assessment")
	return cmd
}

func submitClaim(ctx context.Context, a *app, eventBus domain.EventBus, req domain.ClaimRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	data, err := eventBus.Request(ctx, domain.TopicClaimSubmitted, payload)
	if err != nil {
		return fmt.Errorf("claim request failed: %w", err)
	}

	assessment, err := worker.DecodeReply(data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(assessment)
}
