package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/domain"
)

// ThresholdClassifier turns a clinical snapshot plus a raw risk score into
// a DiseaseVerdict. Hard diagnostic criteria are categorical and always
// override the continuous score: a patient whose blood pressure meets the
// hypertension threshold is never shown a softened statistical framing.
type ThresholdClassifier struct {
	logger *logrus.Logger
	rules  map[domain.Disease]*DiseaseRule
}

// DiseaseRule bundles the per-disease diagnostic checks, banding cutoffs
// and factor weights.
type DiseaseRule struct {
	Disease    domain.Disease
	Hard       *DiagnosticCheck
	Borderline *DiagnosticCheck
	Bands      RiskBands
	Factors    []FactorWeight
}

// DiagnosticCheck is a categorical rule over snapshot fields. Evaluate is
// only called when every required field is present; a check is never
// satisfied on absent data.
type DiagnosticCheck struct {
	Fields   []string
	Evaluate func(s domain.ClinicalSnapshot) (bool, string)
}

// RiskBands holds the statistical cutoffs for one disease. Base rates
// differ sharply between conditions, so each disease carries its own.
type RiskBands struct {
	Elevated float64
	Moderate float64
	Low      float64
}

// FactorWeight describes one feature's contribution to a disease verdict.
// Neutral is the imputation default used when the field is missing.
type FactorWeight struct {
	Feature string
	Weight  float64
	Neutral float64
}

// NewThresholdClassifier creates a classifier with the built-in disease rules
func NewThresholdClassifier(logger *logrus.Logger) *ThresholdClassifier {
	c := &ThresholdClassifier{
		logger: logger,
		rules:  make(map[domain.Disease]*DiseaseRule),
	}
	c.initializeRules()
	return c
}

// Classify produces the verdict for one disease, in strict priority order:
// hard diagnostic check, then borderline check, then statistical banding.
// It returns the verdict plus the list of fields that were missing from
// the snapshot and imputed at their neutral defaults.
func (c *ThresholdClassifier) Classify(snapshot domain.ClinicalSnapshot, disease domain.Disease, rawScore float64, source domain.ScoreSource) (domain.DiseaseVerdict, []string, error) {
	rule, exists := c.rules[disease]
	if !exists {
		return domain.DiseaseVerdict{}, nil, fmt.Errorf("classifying %s: %w", disease, domain.ErrInvalidDisease)
	}

	verdict := domain.DiseaseVerdict{
		Disease:     disease,
		RawScore:    rawScore,
		RiskPercent: roundPercent(rawScore * 100),
		Source:      source,
		TopFactors:  c.topFactors(rule, snapshot),
	}

	imputed := c.missingFields(rule, snapshot)

	// Hard diagnostic check. Skipped entirely when a required field is
	// absent: never diagnose on missing data.
	if rule.Hard != nil && hasAllFields(snapshot, rule.Hard.Fields) {
		if met, note := rule.Hard.Evaluate(snapshot); met {
			verdict.ClinicalStatus = domain.DIAGNOSED
			verdict.SeverityLabel = domain.LABEL_DIAGNOSED
			verdict.DiagnosticNote = note
			verdict.Confidence = 0.95

			c.logger.WithFields(logrus.Fields{
				"disease":         disease,
				"diagnostic_note": note,
				"raw_score":       rawScore,
			}).Info("Hard diagnostic criterion met")

			return verdict, imputed, nil
		}
	}

	// Borderline pre-diagnostic check, same missing-field semantics.
	if rule.Borderline != nil && hasAllFields(snapshot, rule.Borderline.Fields) {
		if met, note := rule.Borderline.Evaluate(snapshot); met {
			verdict.ClinicalStatus = domain.BORDERLINE
			verdict.SeverityLabel = domain.LABEL_BORDERLINE
			verdict.DiagnosticNote = note
			verdict.Confidence = 0.85
			return verdict, imputed, nil
		}
	}

	// Statistical banding against the disease's own cutoffs.
	verdict.ClinicalStatus = domain.NOT_DIAGNOSED
	verdict.SeverityLabel = bandLabel(rule.Bands, rawScore)
	verdict.Confidence = statisticalConfidence(source)

	return verdict, imputed, nil
}

// ExpectedFields returns the union of every field any disease rule reads,
// in sorted order. Used for the run-level data-quality descriptor.
func (c *ThresholdClassifier) ExpectedFields() []string {
	seen := make(map[string]struct{})
	for _, rule := range c.rules {
		for _, check := range []*DiagnosticCheck{rule.Hard, rule.Borderline} {
			if check == nil {
				continue
			}
			for _, f := range check.Fields {
				seen[f] = struct{}{}
			}
		}
		for _, fw := range rule.Factors {
			seen[fw.Feature] = struct{}{}
		}
	}

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// missingFields lists the rule's fields absent from the snapshot.
func (c *ThresholdClassifier) missingFields(rule *DiseaseRule, snapshot domain.ClinicalSnapshot) []string {
	seen := make(map[string]struct{})
	var missing []string

	record := func(fields []string) {
		for _, f := range fields {
			if _, dup := seen[f]; dup {
				continue
			}
			if !snapshot.Has(f) {
				seen[f] = struct{}{}
				missing = append(missing, f)
			}
		}
	}

	if rule.Hard != nil {
		record(rule.Hard.Fields)
	}
	if rule.Borderline != nil {
		record(rule.Borderline.Fields)
	}
	for _, fw := range rule.Factors {
		record([]string{fw.Feature})
	}

	sort.Strings(missing)
	return missing
}

// topFactors returns the highest-weighted contributing factors with their
// observed (or neutrally imputed) values.
func (c *ThresholdClassifier) topFactors(rule *DiseaseRule, snapshot domain.ClinicalSnapshot) []domain.RiskFactor {
	factors := make([]domain.RiskFactor, 0, len(rule.Factors))
	for _, fw := range rule.Factors {
		value, provided := snapshot.Value(fw.Feature)
		if !provided {
			value = fw.Neutral
		}
		factors = append(factors, domain.RiskFactor{
			Feature:    fw.Feature,
			Importance: fw.Weight,
			Value:      value,
			Provided:   provided,
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Importance > factors[j].Importance
	})

	if len(factors) > 3 {
		factors = factors[:3]
	}
	return factors
}

func hasAllFields(snapshot domain.ClinicalSnapshot, fields []string) bool {
	for _, f := range fields {
		if !snapshot.Has(f) {
			return false
		}
	}
	return true
}

func bandLabel(bands RiskBands, score float64) domain.SeverityLabel {
	switch {
	case score >= bands.Elevated:
		return domain.ELEVATED_RISK
	case score >= bands.Moderate:
		return domain.MODERATE_RISK
	case score >= bands.Low:
		return domain.LOW_RISK
	default:
		return domain.MINIMAL_RISK
	}
}

func statisticalConfidence(source domain.ScoreSource) float64 {
	if source == domain.SIMULATED {
		// Fallback scores are non-authoritative.
		return 0.55
	}
	return 0.80
}

func roundPercent(p float64) float64 {
	return math.Round(p*10) / 10
}

// initializeRules sets up the per-disease diagnostic rules.
// Thresholds follow ADA (diabetes), ACC/AHA (blood pressure) and KDIGO
// (kidney function) criteria.
func (c *ThresholdClassifier) initializeRules() {
	c.rules[domain.DIABETES] = &DiseaseRule{
		Disease: domain.DIABETES,
		Hard: &DiagnosticCheck{
			Fields: []string{"hba1c"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				hba1c, _ := s.Value("hba1c")
				if hba1c >= 6.5 {
					return true, fmt.Sprintf("HbA1c %.1f%% ≥ 6.5%% diagnostic threshold", hba1c)
				}
				return false, ""
			},
		},
		Borderline: &DiagnosticCheck{
			Fields: []string{"hba1c"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				hba1c, _ := s.Value("hba1c")
				if hba1c >= 5.7 {
					return true, fmt.Sprintf("HbA1c %.1f%% in prediabetic range 5.7-6.4%%", hba1c)
				}
				return false, ""
			},
		},
		Bands: RiskBands{Elevated: 0.60, Moderate: 0.40, Low: 0.20},
		Factors: []FactorWeight{
			{Feature: "hba1c", Weight: 0.35, Neutral: 5.4},
			{Feature: "fasting_glucose", Weight: 0.25, Neutral: 90},
			{Feature: "bmi", Weight: 0.20, Neutral: 24},
			{Feature: "family_history_score", Weight: 0.12, Neutral: 0},
			{Feature: "age", Weight: 0.08, Neutral: 40},
		},
	}

	c.rules[domain.HYPERTENSION] = &DiseaseRule{
		Disease: domain.HYPERTENSION,
		Hard: &DiagnosticCheck{
			Fields: []string{"bp_systolic", "bp_diastolic"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				sys, _ := s.Value("bp_systolic")
				dia, _ := s.Value("bp_diastolic")
				if sys >= 140 {
					return true, fmt.Sprintf("systolic %.0f mmHg ≥ 140 mmHg diagnostic threshold", sys)
				}
				if dia >= 90 {
					return true, fmt.Sprintf("diastolic %.0f mmHg ≥ 90 mmHg diagnostic threshold", dia)
				}
				return false, ""
			},
		},
		Borderline: &DiagnosticCheck{
			Fields: []string{"bp_systolic", "bp_diastolic"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				sys, _ := s.Value("bp_systolic")
				dia, _ := s.Value("bp_diastolic")
				if sys >= 130 || dia >= 85 {
					return true, fmt.Sprintf("blood pressure %.0f/%.0f mmHg in stage-1 elevated range", sys, dia)
				}
				return false, ""
			},
		},
		Bands: RiskBands{Elevated: 0.55, Moderate: 0.35, Low: 0.18},
		Factors: []FactorWeight{
			{Feature: "bp_systolic", Weight: 0.35, Neutral: 115},
			{Feature: "bp_diastolic", Weight: 0.25, Neutral: 75},
			{Feature: "bmi", Weight: 0.15, Neutral: 24},
			{Feature: "sodium_intake", Weight: 0.13, Neutral: 2},
			{Feature: "age", Weight: 0.12, Neutral: 40},
		},
	}

	// Heart disease and stroke carry no single categorical criterion; they
	// classify purely by statistical banding.
	c.rules[domain.HEART_DISEASE] = &DiseaseRule{
		Disease: domain.HEART_DISEASE,
		Bands:   RiskBands{Elevated: 0.50, Moderate: 0.30, Low: 0.15},
		Factors: []FactorWeight{
			{Feature: "ldl", Weight: 0.30, Neutral: 100},
			{Feature: "hdl", Weight: 0.20, Neutral: 55},
			{Feature: "smoker", Weight: 0.20, Neutral: 0},
			{Feature: "bp_systolic", Weight: 0.16, Neutral: 115},
			{Feature: "family_history_score", Weight: 0.14, Neutral: 0},
		},
	}

	c.rules[domain.STROKE] = &DiseaseRule{
		Disease: domain.STROKE,
		Bands:   RiskBands{Elevated: 0.40, Moderate: 0.25, Low: 0.10},
		Factors: []FactorWeight{
			{Feature: "bp_systolic", Weight: 0.30, Neutral: 115},
			{Feature: "age", Weight: 0.25, Neutral: 40},
			{Feature: "smoker", Weight: 0.20, Neutral: 0},
			{Feature: "atrial_fibrillation", Weight: 0.15, Neutral: 0},
			{Feature: "ldl", Weight: 0.10, Neutral: 100},
		},
	}

	c.rules[domain.KIDNEY_DISEASE] = &DiseaseRule{
		Disease: domain.KIDNEY_DISEASE,
		Hard: &DiagnosticCheck{
			Fields: []string{"egfr"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				egfr, _ := s.Value("egfr")
				if egfr < 60 {
					return true, fmt.Sprintf("eGFR %.0f mL/min < 60 mL/min diagnostic threshold", egfr)
				}
				return false, ""
			},
		},
		Borderline: &DiagnosticCheck{
			Fields: []string{"egfr"},
			Evaluate: func(s domain.ClinicalSnapshot) (bool, string) {
				egfr, _ := s.Value("egfr")
				if egfr < 90 {
					return true, fmt.Sprintf("eGFR %.0f mL/min mildly reduced (60-89 mL/min)", egfr)
				}
				return false, ""
			},
		},
		Bands: RiskBands{Elevated: 0.45, Moderate: 0.28, Low: 0.12},
		Factors: []FactorWeight{
			{Feature: "egfr", Weight: 0.35, Neutral: 100},
			{Feature: "bp_systolic", Weight: 0.25, Neutral: 115},
			{Feature: "hba1c", Weight: 0.20, Neutral: 5.4},
			{Feature: "age", Weight: 0.12, Neutral: 40},
			{Feature: "bmi", Weight: 0.08, Neutral: 24},
		},
	}

	c.logger.WithField("rule_count", len(c.rules)).Info("Initialized diagnostic threshold rules")
}
