package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/momoguard/internal/domain"
)

// benchCase is one labelled row: an optional SMS to ingest followed by a
// claim to verify.
type benchCase struct {
	SMS    string
	From   string
	TxID   string
	Phone  string
	Name   string
	Amount *float64
	Fraud  bool
}

// benchMetrics tracks replay results. Any claim that is not verified
// counts as flagged.
type benchMetrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalGenuine   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func (m *benchMetrics) record(flagged, fraud bool) {
	if fraud {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalGenuine, 1)
	}

	switch {
	case flagged && fraud:
		atomic.AddInt64(&m.TruePositives, 1)
	case flagged && !fraud:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !flagged && !fraud:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func (m *benchMetrics) precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m *benchMetrics) recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *benchMetrics) f1() float64 {
	p, r := m.precision(), m.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func benchCmd() *cobra.Command {
	var (
		baseURL  string
		tenantID string
		secret   string
		limit    int
		workers  int
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "bench <cases.csv>",
		Short: "Replay labelled SMS and claims against a running server",
		Long: `Replay a CSV of labelled cases against a running momoguard server and
report precision, recall and latency.

Columns (header required): sms, from, txid, phone, name, amount, fraud.
Rows with an sms are ingested through POST /sms before their claim is sent
to POST /verify.`,
		Args: cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cases, err := readBenchCases(f, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d cases from %s\n", len(cases), args[0])

			client := &benchClient{
				http:     &http.Client{Timeout: 10 * time.Second},
				baseURL:  strings.TrimRight(baseURL, "/"),
				tenantID: tenantID,
				secret:   secret,
			}
			if err := client.health(); err != nil {
				return fmt.Errorf("momoguard not reachable at %s: %w", baseURL, err)
			}

			start := time.Now()
			m := runBench(cases, client, workers, verbose, out)
			printBenchResults(out, m, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "momoguard base URL")
	cmd.Flags().StringVar(&tenantID, "tenant", "benchmark-test", "tenant ID for requests")
	cmd.Flags().StringVar(&secret, "secret", "", "forwarder secret for POST /sms")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum cases to replay (0 = all)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent claims")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print each claim result")

	return cmd
}

// readBenchCases parses labelled cases. Rows without txid or phone are skipped.
func readBenchCases(r io.Reader, limit int) ([]benchCase, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"txid", "phone", "fraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var cases []benchCase
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		c := benchCase{
			SMS:   field(record, "sms"),
			From:  field(record, "from"),
			TxID:  field(record, "txid"),
			Phone: field(record, "phone"),
			Name:  field(record, "name"),
		}
		if c.TxID == "" || c.Phone == "" {
			continue
		}
		if raw := field(record, "amount"); raw != "" {
			if amount, err := strconv.ParseFloat(raw, 64); err == nil {
				c.Amount = &amount
			}
		}
		fraud := strings.ToLower(field(record, "fraud"))
		c.Fraud = fraud == "1" || fraud == "true" || fraud == "yes"
		if c.From == "" {
			c.From = "M-Money"
		}

		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

type benchClient struct {
	http     *http.Client
	baseURL  string
	tenantID string
	secret   string
}

func (c *benchClient) health() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *benchClient) post(path string, body any, out any, accept ...int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)
	if c.secret != "" {
		req.Header.Set("X-Forwarder-Secret", c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range accept {
		if resp.StatusCode == code {
			if out == nil {
				return nil
			}
			return json.NewDecoder(resp.Body).Decode(out)
		}
	}
	return fmt.Errorf("%s: status %d", path, resp.StatusCode)
}

func (c *benchClient) run(bc benchCase) (*domain.VerificationResponse, error) {
	if bc.SMS != "" {
		// Duplicates and unparsed messages are part of realistic traffic.
		err := c.post("/sms", map[string]string{"text": bc.SMS, "from": bc.From}, nil,
			http.StatusCreated, http.StatusOK, http.StatusConflict, http.StatusUnprocessableEntity)
		if err != nil {
			return nil, err
		}
	}

	var resp domain.VerificationResponse
	claim := map[string]any{"txid": bc.TxID, "phone": bc.Phone, "name": bc.Name}
	if bc.Amount != nil {
		claim["amount"] = *bc.Amount
	}
	if err := c.post("/verify", claim, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func runBench(cases []benchCase, client *benchClient, workers int, verbose bool, out io.Writer) *benchMetrics {
	if workers <= 0 {
		workers = 1
	}
	m := &benchMetrics{}
	var printMu sync.Mutex

	work := make(chan benchCase, 100)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for bc := range work {
				start := time.Now()
				resp, err := client.run(bc)
				atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						printMu.Lock()
						fmt.Fprintf(out, "ERROR: %s -> %v\n", bc.TxID, err)
						printMu.Unlock()
					}
					continue
				}

				flagged := resp.Status != domain.VerificationVerified
				m.record(flagged, bc.Fraud)

				if verbose {
					mark := "ok "
					if flagged != bc.Fraud {
						mark = "BAD"
					}
					score := 0.0
					if resp.Risk != nil {
						score = resp.Risk.Score
					}
					printMu.Lock()
					fmt.Fprintf(out, "%s %-14s | fraud: %-5v | %-13s (%.2f) | match: %s\n",
						mark, bc.TxID, bc.Fraud, resp.Status, score, resp.MatchMethod)
					printMu.Unlock()
				}
			}
		}()
	}

	for _, bc := range cases {
		work <- bc
	}
	close(work)
	wg.Wait()

	return m
}

func printBenchResults(out io.Writer, m *benchMetrics, duration time.Duration) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "RESULTS")
	fmt.Fprintf(out, "  Processed:  %d (fraud %d, genuine %d, errors %d)\n",
		m.TotalProcessed, m.TotalFraud, m.TotalGenuine, m.TotalErrors)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "                 flagged   passed")
	fmt.Fprintf(out, "  fraud        %9d %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(out, "  genuine      %9d %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Precision:  %.4f\n", m.precision())
	fmt.Fprintf(out, "  Recall:     %.4f\n", m.recall())
	fmt.Fprintf(out, "  F1-Score:   %.4f\n", m.f1())

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Fprintf(out, "  Avg latency: %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Fprintf(out, "  Throughput:  %.2f claims/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Fprintln(out)
}
