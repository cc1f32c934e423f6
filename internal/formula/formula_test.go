package formula

import (
	"math"
	"testing"
)

func TestEvaluateBasicArithmetic(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	vars := Vars{Deposit: 100, Bonus: 50, Withdrawal: 0, Multiplier: 5, Fixed: 0}

	tests := []struct {
		expr string
		want float64
	}{
		{"deposit * multiplier", 500},
		{"(deposit + bonus) * 3", 450},
		{"deposit + 500", 600},
		{"deposit / 2", 50},
		{"bonus - 25", 25},
	}

	for _, tc := range tests {
		got, err := engine.Evaluate(tc.expr, vars)
		if err != nil {
			t.Errorf("Evaluate(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateMinMax(t *testing.T) {
	engine, _ := NewEngine()

	vars := Vars{Deposit: 1000, Bonus: 200, Multiplier: 5}

	got, err := engine.Evaluate("min(deposit * multiplier, 3000)", vars)
	if err != nil {
		t.Fatalf("min evaluation failed: %v", err)
	}
	if got != 3000 {
		t.Errorf("expected 3000, got %v", got)
	}

	got, err = engine.Evaluate("max(bonus, 500)", vars)
	if err != nil {
		t.Fatalf("max evaluation failed: %v", err)
	}
	if got != 500 {
		t.Errorf("expected 500, got %v", got)
	}

	got, err = engine.Evaluate("min(deposit, bonus, 150)", vars)
	if err != nil {
		t.Fatalf("3-arg min evaluation failed: %v", err)
	}
	if got != 150 {
		t.Errorf("expected 150, got %v", got)
	}
}

func TestEvaluateConditional(t *testing.T) {
	engine, _ := NewEngine()

	expr := "deposit >= 1000 ? deposit * 2 : deposit"

	got, err := engine.Evaluate(expr, Vars{Deposit: 1500})
	if err != nil {
		t.Fatalf("conditional evaluation failed: %v", err)
	}
	if got != 3000 {
		t.Errorf("expected 3000, got %v", got)
	}

	got, err = engine.Evaluate(expr, Vars{Deposit: 500})
	if err != nil {
		t.Fatalf("conditional evaluation failed: %v", err)
	}
	if got != 500 {
		t.Errorf("expected 500, got %v", got)
	}
}

func TestEvaluateInfinity(t *testing.T) {
	engine, _ := NewEngine()

	got, err := engine.Evaluate("Infinity", Vars{})
	if err != nil {
		t.Fatalf("Infinity evaluation failed: %v", err)
	}
	if !math.IsInf(got, 1) {
		t.Errorf("expected +Inf, got %v", got)
	}
}

func TestEvaluateMalformedReturnsZero(t *testing.T) {
	engine, _ := NewEngine()

	for _, expr := range []string{
		"not a formula",
		"deposit * ",
		"eval(deposit)",
		"someGlobal + 1",
	} {
		got, err := engine.Evaluate(expr, Vars{Deposit: 100})
		if err == nil {
			t.Errorf("Evaluate(%q): expected error", expr)
		}
		if got != 0 {
			t.Errorf("Evaluate(%q) = %v, want 0 on failure", expr, got)
		}
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	engine, _ := NewEngine()

	vars := Vars{Deposit: 100, Multiplier: 5}

	first, err := engine.Evaluate("deposit * multiplier", vars)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := engine.Evaluate("deposit * multiplier", vars)
		if err != nil {
			t.Fatalf("evaluation failed on run %d: %v", i, err)
		}
		if got != first {
			t.Errorf("run %d: got %v, want %v", i, got, first)
		}
	}
}

func TestValidate(t *testing.T) {
	engine, _ := NewEngine()

	if err := engine.Validate("deposit * multiplier + fixed"); err != nil {
		t.Errorf("valid formula rejected: %v", err)
	}
	if err := engine.Validate("deposit ***"); err == nil {
		t.Error("expected error for malformed formula")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"deposit * 5", "deposit * 5.0"},
		{"deposit * 5.5", "deposit * 5.5"},
		{"min(100, 200)", "min(100.0, 200.0)"},
		{"deposit + bonus", "deposit + bonus"},
		{"1500", "1500.0"},
	}

	for _, tc := range tests {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
