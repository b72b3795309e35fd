package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/repository"
)

// scoreResult is one output line of the score command.
type scoreResult struct {
	BeneficiaryID string           `json:"beneficiary_id"`
	ShopID        string           `json:"shop_id"`
	FraudScore    float64          `json:"fraud_score"`
	RiskLevel     domain.RiskLevel `json:"risk_level,omitempty"`
	Reasons       []string         `json:"reasons"`
	Error         string           `json:"error,omitempty"`
}

func newScoreCmd(a *app) *cobra.Command {
	var file string
	var seed uint64

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score claims in-process from a file or stdin",
		Long: `Score reads claims as a JSON array or as a stream of JSON objects and
prints one JSON result per claim. Claims are scored in input order against
a history that starts empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if seed != 0 {
				cfg.Scoring.NoiseSeed = seed
			}

			in := a.stdin
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open claims file: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runScore(cmd.Context(), a, cfg, in)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "claims file, - for stdin")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "noise seed for reproducible scores")
	return cmd
}

func runScore(ctx context.Context, a *app, cfg *domain.Config, in io.Reader) error {
	claims, err := readClaims(in)
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	c, err := newCore(ctx, cfg, repo)
	if err != nil {
		return err
	}

	reqs := make([]domain.Claim, len(claims))
	for i, r := range claims {
		reqs[i] = r.Claim()
	}
	items, err := c.engine.ScoreBatch(ctx, reqs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	failed := 0
	for i, it := range items {
		res := scoreResult{Reasons: []string{}}
		if it.Err != nil {
			failed++
			claim := reqs[i]
			claim.Normalize()
			res.BeneficiaryID, res.ShopID = claim.BeneficiaryID, claim.ShopID
			res.Error = it.Err.Error()
		} else {
			res.BeneficiaryID = it.Assessment.BeneficiaryID
			res.ShopID = it.Assessment.ShopID
			res.FraudScore = it.Assessment.FraudScore
			res.RiskLevel = it.Assessment.RiskLevel
			res.Reasons = it.Assessment.Reasons
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d claims failed to score", failed, len(items))
	}
	return nil
}

// readClaims accepts a JSON array of claims or a stream of claim objects.
func readClaims(r io.Reader) ([]domain.ClaimRequest, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var claims []domain.ClaimRequest
		if err := dec.Decode(&claims); err != nil {
			return nil, fmt.Errorf("failed to parse claims: %w", err)
		}
		return claims, nil
	}

	var claims []domain.ClaimRequest
	for {
		var c domain.ClaimRequest
		err := dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			return claims, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse claim %d: %w", len(claims)+1, err)
		}
		claims = append(claims, c)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
