// Package rules provides the CEL-Go based engine for tenant-defined risk rules.
//
// Rules are boolean CEL expressions over the claim, the matched payment and
// the claimant's recent activity. A rule that evaluates to true fires and
// contributes its weight to the rule score.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/momoguard/internal/domain"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	velocityGetter VelocityGetter
	maxWorkers     int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// VelocityGetter returns how many claims a phone made within a window.
type VelocityGetter func(ctx context.Context, tenantID, phone string, windowSecs int) (int64, error)

// NewEngine creates a new rule evaluation engine.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claim_txid", cel.StringType),
		cel.Variable("claim_phone", cel.StringType),
		cel.Variable("claim_name", cel.StringType),
		cel.Variable("claim_amount", cel.DoubleType),
		cel.Variable("has_claim_amount", cel.BoolType),
		cel.Variable("has_payment", cel.BoolType),
		cel.Variable("payment_txid", cel.StringType),
		cel.Variable("payment_phone", cel.StringType),
		cel.Variable("payment_name", cel.StringType),
		cel.Variable("payment_amount", cel.DoubleType),
		cel.Variable("payment_hour", cel.IntType),
		cel.Variable("extraction_method", cel.StringType),
		cel.Variable("extraction_confidence", cel.DoubleType),
		cel.Variable("source_language", cel.StringType),
		cel.Variable("match_confidence", cel.DoubleType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("recent_count", cel.IntType),
		cel.Variable("reused_txid", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("phone_claims", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the facts a rule can see.
type EvaluateInput struct {
	TenantID        string
	Claim           *domain.ClaimRequest
	Payment         *domain.Payment
	MatchConfidence float64
	HistoryCount    int
	RecentCount     int
	ReusedTxID      bool
	VelocityWindow  int            // seconds
	Location        *time.Location // zone of payment_hour; nil keeps the timestamp's own
	AdditionalData  map[string]any
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered
// by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	if input == nil || input.Claim == nil {
		return nil, fmt.Errorf("claim is required")
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	var velocityCount int64
	if e.velocityGetter != nil && input.VelocityWindow > 0 && input.Claim.Phone != "" {
		count, err := e.velocityGetter(ctx, input.TenantID, input.Claim.Phone, input.VelocityWindow)
		if err == nil {
			velocityCount = count
		}
	}

	activation := buildActivation(input, velocityCount)

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

func buildActivation(input *EvaluateInput, velocityCount int64) map[string]any {
	c := input.Claim
	claimAmount := 0.0
	if c.Amount != nil {
		claimAmount = *c.Amount
	}

	activation := map[string]any{
		"claim": map[string]any{
			"txid":   c.TransactionID,
			"phone":  c.Phone,
			"name":   c.Name,
			"amount": claimAmount,
		},
		"claim_txid":            c.TransactionID,
		"claim_phone":           c.Phone,
		"claim_name":            c.Name,
		"claim_amount":          claimAmount,
		"has_claim_amount":      c.Amount != nil,
		"has_payment":           input.Payment != nil,
		"payment_txid":          "",
		"payment_phone":         "",
		"payment_name":          "",
		"payment_amount":        0.0,
		"payment_hour":          int64(-1),
		"extraction_method":     "",
		"extraction_confidence": 0.0,
		"source_language":       "",
		"match_confidence":      input.MatchConfidence,
		"history_count":         int64(input.HistoryCount),
		"recent_count":          int64(input.RecentCount),
		"reused_txid":           input.ReusedTxID,
		"velocity_count":        velocityCount,
		"phone_claims":          int64(0),
	}

	payment := map[string]any{}
	if p := input.Payment; p != nil {
		hour := int64(-1)
		if !p.Timestamp.IsZero() && !p.TimestampInferred {
			ts := p.Timestamp
			if input.Location != nil {
				ts = ts.In(input.Location)
			}
			hour = int64(ts.Hour())
		}
		activation["payment_txid"] = p.TransactionID
		activation["payment_phone"] = p.SenderPhone
		activation["payment_name"] = p.SenderName
		activation["payment_amount"] = p.Amount
		activation["payment_hour"] = hour
		activation["extraction_method"] = p.ExtractionMethod
		activation["extraction_confidence"] = p.Confidence
		activation["source_language"] = p.SourceLanguage
		payment = map[string]any{
			"id":     p.ID,
			"txid":   p.TransactionID,
			"phone":  p.SenderPhone,
			"name":   p.SenderName,
			"amount": p.Amount,
			"hour":   hour,
			"status": string(p.Status),
		}
	}
	activation["payment"] = payment

	for k, v := range input.AdditionalData {
		activation[k] = v
	}
	return activation
}

// evaluateRule evaluates a single rule. Evaluation errors never fire.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID: rule.Config.ID,
		Weight: rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if fired, ok := out.Value().(bool); ok && fired {
		result.Fired = true
		result.Reason = rule.Config.Description
		if result.Reason == "" {
			result.Reason = rule.Config.Name
		}
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
