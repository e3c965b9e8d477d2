package service

import (
	"fmt"
	"math"

	"github.com/encounter-risk-server/internal/domain"
)

// PatientView derives the patient-facing view of a clinician verdict. It
// is total, pure, and applied only to finalized results. Two rules, applied
// uniformly everywhere a patient reads a result:
//
//  1. the risk percentage is rounded to the nearest multiple of 5
//  2. the single highest statistical tier (ELEVATED RISK) is downgraded one
//     step for display
//
// Diagnosed verdicts are exempt from the downgrade but are re-worded into
// clinical, reassurance-oriented phrasing with no raw percentage. The
// displayed severity is never higher than the clinician-facing tier.
func PatientView(v domain.DiseaseVerdict) domain.PatientSafeVerdict {
	safe := domain.PatientSafeVerdict{
		Disease:        v.Disease,
		DiseaseName:    v.Disease.DisplayName(),
		DisplayPercent: roundToNearestFive(v.RiskPercent),
		ShowPercent:    true,
		DisplayLabel:   v.SeverityLabel,
		Authoritative:  v.Source == domain.LIVE_MODEL,
	}

	switch v.ClinicalStatus {
	case domain.DIAGNOSED:
		// Hard diagnostic verdicts keep their label but drop the raw
		// percentage in favor of clinical wording.
		safe.ShowPercent = false
		safe.Message = fmt.Sprintf(
			"Your results meet the clinical criteria for %s. Your care team has reviewed this and will discuss next steps with you.",
			v.Disease.DisplayName())

	case domain.BORDERLINE:
		safe.Message = fmt.Sprintf(
			"Some of your values for %s are slightly outside the typical range. This is common and often manageable with small changes.",
			v.Disease.DisplayName())

	default:
		if v.SeverityLabel == domain.ELEVATED_RISK {
			safe.DisplayLabel = domain.MODERATE_RISK
		}
		safe.Message = statisticalMessage(safe.DisplayLabel, v.Disease)
	}

	if !safe.Authoritative {
		safe.Message += " This estimate was produced without the prediction service and is not a clinical assessment."
	}

	return safe
}

// PatientViews maps a full finalized result into its patient-facing form.
func PatientViews(result *domain.AnalysisResult) []domain.PatientSafeVerdict {
	views := make([]domain.PatientSafeVerdict, 0, len(result.Verdicts))
	for _, v := range result.Verdicts {
		views = append(views, PatientView(v))
	}
	return views
}

func statisticalMessage(label domain.SeverityLabel, disease domain.Disease) string {
	switch label {
	case domain.MODERATE_RISK:
		return fmt.Sprintf("Your estimated risk for %s is somewhat above average. Your clinician can suggest ways to lower it.", disease.DisplayName())
	case domain.LOW_RISK:
		return fmt.Sprintf("Your estimated risk for %s is low. Keep up your current habits.", disease.DisplayName())
	default:
		return fmt.Sprintf("Your estimated risk for %s is minimal. No action is needed.", disease.DisplayName())
	}
}

func roundToNearestFive(p float64) float64 {
	return math.Round(p/5) * 5
}
