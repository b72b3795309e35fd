package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/api"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// labelledClaim is a claim with its ground truth.
type labelledClaim struct {
	Request domain.ClaimRequest
	IsFraud bool
}

type replayOptions struct {
	url           string
	csvPath       string
	beneficiaries int
	fraudRatio    float64
	seed          uint64
	limit         int
	workers       int
	alertLevel    string
	verbose       bool
}

// replayStats tracks replay results.
type replayStats struct {
	confusion
	processed atomic.Int64
	errors    atomic.Int64
	latencyUs atomic.Int64
}

func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay labelled claims against a running service and report detection quality",
		Long: `Replay sends labelled claims to POST /predict-fraud and compares the
returned risk levels with the labels. Claims come from a CSV file with the
columns beneficiary_id,shop_id,quantity,region_risk,timestamp,is_fraud or,
without --csv, from a synthetic population.

Claims of one beneficiary are always sent in order by the same worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var claims []labelledClaim
			var err error
			if opts.csvPath != "" {
				claims, err = readLabelledCSV(opts.csvPath, opts.limit)
			} else {
				claims = syntheticClaims(opts.beneficiaries, opts.fraudRatio, opts.seed)
				if opts.limit > 0 && len(claims) > opts.limit {
					claims = claims[:opts.limit]
				}
			}
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), a, claims, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:5000", "claimguard base URL")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "labelled claims CSV (default: synthetic)")
	cmd.Flags().IntVar(&opts.beneficiaries, "beneficiaries", 500, "synthetic beneficiaries")
	cmd.Flags().Float64Var(&opts.fraudRatio, "fraud-ratio", 0.1, "share of synthetic beneficiaries that commit fraud")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 7, "synthetic population seed")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum claims to send (0 = all)")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "concurrent workers")
	cmd.Flags().StringVar(&opts.alertLevel, "alert-level", string(domain.RiskHigh), "lowest risk level counted as a fraud prediction")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print each claim result")
	return cmd
}

func runReplay(ctx context.Context, a *app, claims []labelledClaim, opts *replayOptions) error {
	threshold, ok := riskRank[domain.RiskLevel(strings.ToUpper(opts.alertLevel))]
	if !ok {
		return fmt.Errorf("unknown alert level %q", opts.alertLevel)
	}
	if len(claims) == 0 {
		return errors.New("no claims to replay")
	}
	workers := max(opts.workers, 1)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(ctx, client, opts.url); err != nil {
		return fmt.Errorf("claimguard not reachable at %s: %w", opts.url, err)
	}

	fmt.Fprintf(a.stdout, "Replaying %d claims with %d workers against %s\n", len(claims), workers, opts.url)

	stats := &replayStats{}
	queues := make([]chan labelledClaim, workers)
	var wg sync.WaitGroup
	var outMu sync.Mutex

	for i := range queues {
		queues[i] = make(chan labelledClaim, 100)
		wg.Add(1)
		go func(work <-chan labelledClaim) {
			defer wg.Done()
			for lc := range work {
				start := time.Now()
				res, err := predict(ctx, client, opts.url, lc.Request)
				stats.latencyUs.Add(time.Since(start).Microseconds())
				stats.processed.Add(1)

				if err != nil {
					stats.errors.Add(1)
					if opts.verbose {
						outMu.Lock()
						fmt.Fprintf(a.stdout, "ERROR %s -> %v\n", lc.Request.BeneficiaryID, err)
						outMu.Unlock()
					}
					continue
				}

				predicted := riskRank[res.RiskLevel] >= threshold
				stats.add(predicted, lc.IsFraud)

				if opts.verbose {
					mark := "ok"
					if predicted != lc.IsFraud {
						mark = "MISS"
					}
					outMu.Lock()
					fmt.Fprintf(a.stdout, "%-4s %-10s %-8s qty=%6.1f fraud=%-5v -> %-6s %.2f %v\n",
						mark, lc.Request.BeneficiaryID, lc.Request.ShopID, lc.Request.Quantity,
						lc.IsFraud, res.RiskLevel, res.FraudScore, res.Reasons)
					outMu.Unlock()
				}
			}
		}(queues[i])
	}

	start := time.Now()
	for _, lc := range claims {
		// one queue per beneficiary keeps its history in timestamp order
		q := queues[xxhash.Sum64String(lc.Request.BeneficiaryID)%uint64(workers)]
		select {
		case q <- lc:
		case <-ctx.Done():
		}
	}
	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	printReplayResults(a.stdout, stats, time.Since(start))
	return ctx.Err()
}

var riskRank = map[domain.RiskLevel]int{
	domain.RiskLow:    0,
	domain.RiskMedium: 1,
	domain.RiskHigh:   2,
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func predict(ctx context.Context, client *http.Client, baseURL string, claim domain.ClaimRequest) (*api.PredictResponse, error) {
	body, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/predict-fraud", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func readLabelledCSV(path string, limit int) ([]labelledClaim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseLabelledCSV(f, limit)
}

func parseLabelledCSV(r io.Reader, limit int) ([]labelledClaim, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"beneficiary_id", "shop_id", "quantity", "is_fraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var claims []labelledClaim
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		quantity, err := strconv.ParseFloat(field(rec, "quantity"), 64)
		if err != nil {
			continue
		}
		req := domain.ClaimRequest{
			BeneficiaryID: field(rec, "beneficiary_id"),
			ShopID:        field(rec, "shop_id"),
			Quantity:      quantity,
		}
		if v, err := strconv.ParseFloat(field(rec, "region_risk"), 64); err == nil {
			req.RegionRisk = &v
		}
		if v, err := strconv.ParseFloat(field(rec, "timestamp"), 64); err == nil {
			req.Timestamp = v
		}
		label := strings.ToLower(field(rec, "is_fraud"))

		claims = append(claims, labelledClaim{
			Request: req,
			IsFraud: label == "1" || label == "true",
		})
		if limit > 0 && len(claims) >= limit {
			break
		}
	}
	return claims, nil
}

const replayEpoch = 1_700_000_000.0

// syntheticClaims generates a population where honest beneficiaries claim
// once a day at their home shop and fraudsters follow one honest claim with
// a same-day burst across shops and regions.
func syntheticClaims(beneficiaries int, fraudRatio float64, seed uint64) []labelledClaim {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	const day = 86400.0

	var claims []labelledClaim
	for b := 0; b < beneficiaries; b++ {
		id := fmt.Sprintf("BEN%05d", b)
		home := fmt.Sprintf("SHOP%03d", r.IntN(50))
		homeRisk := round2(0.1 + 0.2*r.Float64())
		fraudster := r.Float64() < fraudRatio

		claim := func(shop string, qty, region, ts float64, fraud bool) {
			claims = append(claims, labelledClaim{
				Request: domain.ClaimRequest{
					BeneficiaryID: id,
					ShopID:        shop,
					Quantity:      math.Round(qty),
					RegionRisk:    &region,
					Timestamp:     ts,
				},
				IsFraud: fraud,
			})
		}

		if !fraudster {
			for d := 0; d < 3; d++ {
				claim(home, 4+4*r.Float64(), homeRisk, replayEpoch+float64(d)*day+36000*r.Float64(), false)
			}
			continue
		}

		claim(home, 4+4*r.Float64(), homeRisk, replayEpoch+36000*r.Float64(), false)

		ts := replayEpoch + day + 3600*r.Float64()
		burst := 2 + r.IntN(3)
		for k := 0; k < burst; k++ {
			shop := fmt.Sprintf("SHOP%03d", 50+r.IntN(50))
			region := round2(0.7 + 0.25*r.Float64())
			claim(shop, 20+40*r.Float64(), region, ts, true)
			ts += 120 + 780*r.Float64()
		}
	}
	return claims
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func printReplayResults(w io.Writer, s *replayStats, d time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "REPLAY RESULTS")
	fmt.Fprintf(w, "   Processed:  %d\n", s.processed.Load())
	fmt.Fprintf(w, "   Errors:     %d\n", s.errors.Load())

	s.confusion.print(w, "alert", "clear")

	fmt.Fprintln(w)
	fmt.Fprintln(w, "PERFORMANCE")
	fmt.Fprintf(w, "   Duration:    %v\n", d.Round(time.Millisecond))
	if n := s.processed.Load(); n > 0 && d > 0 {
		fmt.Fprintf(w, "   Avg Latency: %.2f ms\n", float64(s.latencyUs.Load())/float64(n)/1000)
		fmt.Fprintf(w, "   Throughput:  %.2f claims/sec\n", float64(n)/d.Seconds())
	}
	fmt.Fprintln(w)
}
