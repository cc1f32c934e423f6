// Seed tool for loading synthetic betting back-office data into Kestrel.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080 -customers 50 -days 30
//
// This tool:
//  1. Generates deposits, bonus grants and withdrawal requests per customer
//  2. Registers a small set of bonus rules and one NL rule prompt
//  3. Posts everything through the public ingestion API
//  4. Optionally triggers a reconciliation pass and prints the summary
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type deposit struct {
	CustomerID  string    `json:"customerId"`
	Amount      float64   `json:"amount"`
	DepositDate time.Time `json:"depositDate"`
}

type bonus struct {
	CustomerID     string    `json:"customerId"`
	BonusName      string    `json:"bonusName"`
	Amount         float64   `json:"amount"`
	AcceptanceDate time.Time `json:"acceptanceDate"`
}

type withdrawal struct {
	CustomerID  string     `json:"customerId"`
	Amount      float64    `json:"amount"`
	RequestDate time.Time  `json:"requestDate"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
}

type bonusRule struct {
	BonusName            string  `json:"bonusName"`
	CalculationType      string  `json:"calculationType"`
	Multiplier           float64 `json:"multiplier,omitempty"`
	FixedAmount          float64 `json:"fixedAmount,omitempty"`
	MaxWithdrawalFormula string  `json:"maxWithdrawalFormula,omitempty"`
}

var bonusNames = []string{
	"Hoş Geldin Bonusu",
	"VIP Yatırım Bonusu",
	"Kayıp Bonusu",
	"Hafta Sonu Bonusu",
	"Sonraki Yatırım Bonusu",
}

var seedRules = []bonusRule{
	{BonusName: "Hoş Geldin", CalculationType: "multiplier", Multiplier: 5},
	{BonusName: "VIP", CalculationType: "formula", MaxWithdrawalFormula: ""},
	{BonusName: "Kayıp", CalculationType: "unlimited"},
	{BonusName: "Hafta Sonu", CalculationType: "fixed", FixedAmount: 1000},
	{BonusName: "Sonraki Yatırım", CalculationType: "multiplier", Multiplier: 3},
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "seed-demo", "Tenant ID for requests")
	customers := flag.Int("customers", 50, "Number of customers to generate")
	days := flag.Int("days", 30, "Span of activity in days")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible data")
	reconcile := flag.Bool("reconcile", true, "Trigger a reconciliation pass after seeding")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL SEED - Synthetic Data          ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Customers:   %d\n", *customers)
	fmt.Printf("Days:        %d\n", *days)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().UTC().AddDate(0, 0, -*days)

	var deposits []deposit
	var bonuses []bonus
	var withdrawals []withdrawal

	for i := 0; i < *customers; i++ {
		customerID := fmt.Sprintf("cust-%04d", i+1)

		// Every customer deposits; most accept a bonus shortly after; some
		// withdraw later, a fraction of them over their limit.
		depositCount := 1 + rng.Intn(4)
		var lastDeposit time.Time
		for d := 0; d < depositCount; d++ {
			at := start.Add(time.Duration(rng.Intn(*days*24)) * time.Hour)
			deposits = append(deposits, deposit{
				CustomerID:  customerID,
				Amount:      float64(50+rng.Intn(100)) * 10,
				DepositDate: at,
			})
			if at.After(lastDeposit) {
				lastDeposit = at
			}
		}

		if rng.Float64() < 0.8 {
			bonusAt := lastDeposit.Add(time.Duration(1+rng.Intn(12)) * time.Hour)
			bonuses = append(bonuses, bonus{
				CustomerID:     customerID,
				BonusName:      bonusNames[rng.Intn(len(bonusNames))],
				Amount:         float64(10+rng.Intn(50)) * 10,
				AcceptanceDate: bonusAt,
			})

			if rng.Float64() < 0.6 {
				requestAt := bonusAt.Add(time.Duration(6+rng.Intn(72)) * time.Hour)
				amount := float64(100+rng.Intn(400)) * 10
				if rng.Float64() < 0.25 {
					// Deliberate overpayment candidates
					amount *= 5
				}
				wd := withdrawal{
					CustomerID:  customerID,
					Amount:      amount,
					RequestDate: requestAt,
				}
				if rng.Float64() < 0.7 {
					paid := requestAt.Add(time.Duration(10+rng.Intn(300)) * time.Minute)
					wd.PaymentDate = &paid
				}
				withdrawals = append(withdrawals, wd)
			}
		}
	}

	for _, rule := range seedRules {
		if rule.CalculationType == "formula" {
			// Expressed as a formula rule: deposit-scaled with a floor.
			rule.CalculationType = "multiplier"
			rule.Multiplier = 10
			rule.MaxWithdrawalFormula = "max(deposit * 10, 5000)"
		}
		if err := post(*baseURL, *tenantID, "/rules", rule); err != nil {
			fmt.Printf("ERROR: failed to create rule %q: %v\n", rule.BonusName, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Rules:       %d created\n", len(seedRules))

	prompt := map[string]string{
		"bonusName": "Hafta Sonu",
		"prompt":    "yatırım miktarının 5 katı kadar çekim yapılabilir",
	}
	if err := post(*baseURL, *tenantID, "/prompts", prompt); err != nil {
		fmt.Printf("ERROR: failed to create prompt: %v\n", err)
		os.Exit(1)
	}

	if err := post(*baseURL, *tenantID, "/deposits", deposits); err != nil {
		fmt.Printf("ERROR: failed to ingest deposits: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deposits:    %d ingested\n", len(deposits))

	if err := post(*baseURL, *tenantID, "/bonuses", bonuses); err != nil {
		fmt.Printf("ERROR: failed to ingest bonuses: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Bonuses:     %d ingested\n", len(bonuses))

	if err := post(*baseURL, *tenantID, "/withdrawals", withdrawals); err != nil {
		fmt.Printf("ERROR: failed to ingest withdrawals: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Withdrawals: %d ingested\n", len(withdrawals))

	if !*reconcile {
		fmt.Println("\nDone. Run POST /reconcile to analyze.")
		return
	}

	fmt.Println("\nRunning reconciliation...")
	summary, err := runReconcile(*baseURL, *tenantID)
	if err != nil {
		fmt.Printf("ERROR: reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Total withdrawals: %d\n", summary.TotalWithdrawals)
	fmt.Printf("Compliant:         %d\n", summary.CompliantCount)
	fmt.Printf("Overpayments:      %d (total %.2f)\n", summary.OverpaymentCount, summary.TotalOverpaymentAmount)
	fmt.Printf("No bonus:          %d\n", summary.NoBonusCount)
	fmt.Printf("Rule not found:    %d\n", summary.RuleNotFoundCount)
	fmt.Printf("Bonuses matched:   %d\n", summary.BonusesMatched)
}

type reconcileSummary struct {
	TotalWithdrawals       int     `json:"totalWithdrawals"`
	CompliantCount         int     `json:"compliantCount"`
	OverpaymentCount       int     `json:"overpaymentCount"`
	NoBonusCount           int     `json:"noBonusCount"`
	RuleNotFoundCount      int     `json:"ruleNotFoundCount"`
	TotalOverpaymentAmount float64 `json:"totalOverpaymentAmount"`
	BonusesMatched         int     `json:"bonusesMatched"`
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

func post(baseURL, tenantID, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, msg)
	}
	return nil
}

func runReconcile(baseURL, tenantID string) (*reconcileSummary, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/reconcile", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reconcile returned %d: %s", resp.StatusCode, msg)
	}

	var summary reconcileSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
