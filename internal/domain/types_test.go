package domain

import (
	"testing"
)

func TestClinicalStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    ClinicalStatus
		expected string
	}{
		{"Diagnosed", DIAGNOSED, "diagnosed"},
		{"Borderline", BORDERLINE, "borderline"},
		{"Not Diagnosed", NOT_DIAGNOSED, "not_diagnosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.value))
			}
			if !tt.value.IsValid() {
				t.Errorf("Expected %s to be valid", tt.value)
			}
		})
	}

	if ClinicalStatus("unknown").IsValid() {
		t.Error("Expected unknown status to be invalid")
	}
}

func TestSeverityLabelTiers(t *testing.T) {
	tests := []struct {
		name  string
		value SeverityLabel
		tier  int
	}{
		{"Diagnosed", LABEL_DIAGNOSED, 5},
		{"Borderline", LABEL_BORDERLINE, 4},
		{"Elevated", ELEVATED_RISK, 3},
		{"Moderate", MODERATE_RISK, 2},
		{"Low", LOW_RISK, 1},
		{"Minimal", MINIMAL_RISK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value.Tier() != tt.tier {
				t.Errorf("Expected tier %d, got %d", tt.tier, tt.value.Tier())
			}
			if !tt.value.IsValid() {
				t.Errorf("Expected %s to be valid", tt.value)
			}
		})
	}
}

func TestSeverityLabelIsStatistical(t *testing.T) {
	statistical := []SeverityLabel{ELEVATED_RISK, MODERATE_RISK, LOW_RISK, MINIMAL_RISK}
	for _, label := range statistical {
		if !label.IsStatistical() {
			t.Errorf("Expected %s to be statistical", label)
		}
	}

	clinical := []SeverityLabel{LABEL_DIAGNOSED, LABEL_BORDERLINE}
	for _, label := range clinical {
		if label.IsStatistical() {
			t.Errorf("Expected %s not to be statistical", label)
		}
	}
}

func TestEncounterStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    EncounterState
		to      EncounterState
		allowed bool
	}{
		{"none to draft", ENCOUNTER_NONE, ENCOUNTER_DRAFT, true},
		{"none to finalized", ENCOUNTER_NONE, ENCOUNTER_FINALIZED, false},
		{"draft overwrite", ENCOUNTER_DRAFT, ENCOUNTER_DRAFT, true},
		{"draft to finalized", ENCOUNTER_DRAFT, ENCOUNTER_FINALIZED, true},
		{"finalized never reverts", ENCOUNTER_FINALIZED, ENCOUNTER_DRAFT, false},
		{"finalized re-submit", ENCOUNTER_FINALIZED, ENCOUNTER_FINALIZED, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, expected %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestAllDiseasesOrderIsStable(t *testing.T) {
	expected := []Disease{DIABETES, HYPERTENSION, HEART_DISEASE, STROKE, KIDNEY_DISEASE}
	got := AllDiseases()

	if len(got) != len(expected) {
		t.Fatalf("Expected %d diseases, got %d", len(expected), len(got))
	}
	for i, d := range expected {
		if got[i] != d {
			t.Errorf("Expected disease %s at index %d, got %s", d, i, got[i])
		}
	}
}

func TestParseDisease(t *testing.T) {
	if _, err := ParseDisease("diabetes"); err != nil {
		t.Errorf("Expected diabetes to parse, got %v", err)
	}
	if _, err := ParseDisease("gout"); err == nil {
		t.Error("Expected unsupported disease to fail parsing")
	}
}
