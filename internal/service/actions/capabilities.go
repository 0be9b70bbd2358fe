package actions

import (
	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
)

// Capability is a coarse permission granted to roles.
type Capability string

const (
	CapReadRecords       Capability = "records:read"
	CapExportCost        Capability = "cost:export"
	CapRecalculateCost   Capability = "cost:recalculate"
	CapManageTreatment   Capability = "treatment:write"
	CapRecordDiagnosis   Capability = "diagnosis:write"
	CapReviewDiagnosis   Capability = "diagnosis:review"
	CapCorrectDeathCause Capability = "death:correct"
	CapReconcile         Capability = "records:reconcile"
)

var required = map[models.Action]Capability{
	models.ActionCalculateBatchCost:         CapReadRecords,
	models.ActionGetTreatment:               CapReadRecords,
	models.ActionGetDeathRecord:             CapReadRecords,
	models.ActionExportBatchCost:            CapExportCost,
	models.ActionRecalculateDeathCost:       CapRecalculateCost,
	models.ActionRecalculateAllDeathCosts:   CapRecalculateCost,
	models.ActionCreateTreatmentRecord:      CapManageTreatment,
	models.ActionSubmitTreatmentPlan:        CapManageTreatment,
	models.ActionUpdateTreatmentProgress:    CapManageTreatment,
	models.ActionCompleteTreatmentAsCured:   CapManageTreatment,
	models.ActionCompleteTreatmentAsDied:    CapManageTreatment,
	models.ActionDiscontinueTreatment:       CapManageTreatment,
	models.ActionCreateTreatmentFromVaccine: CapManageTreatment,
	models.ActionCreateDeathFromVaccine:     CapManageTreatment,
	models.ActionIngestDiagnosis:            CapRecordDiagnosis,
	models.ActionRecordDiagnosis:            CapRecordDiagnosis,
	models.ActionReviewDiagnosis:            CapReviewDiagnosis,
	models.ActionCorrectDeathDiagnosis:      CapCorrectDeathCause,
	models.ActionReconcileRecords:           CapReconcile,
}

var grants = map[models.Role][]Capability{
	models.RoleOwner: {
		CapReadRecords, CapExportCost, CapRecalculateCost, CapManageTreatment,
		CapRecordDiagnosis, CapReviewDiagnosis, CapCorrectDeathCause, CapReconcile,
	},
	models.RoleManager: {
		CapReadRecords, CapExportCost, CapRecalculateCost, CapManageTreatment,
		CapRecordDiagnosis, CapReviewDiagnosis, CapCorrectDeathCause,
	},
	models.RoleVeterinarian: {
		CapReadRecords, CapManageTreatment, CapRecordDiagnosis, CapReviewDiagnosis, CapCorrectDeathCause,
	},
	models.RoleEmployee: {CapReadRecords, CapManageTreatment, CapRecordDiagnosis},
	models.RoleViewer:   {CapReadRecords},
	models.RoleSystem:   {CapReadRecords, CapExportCost, CapRecalculateCost, CapReconcile},
}

// Supported reports whether the action is known to the dispatcher.
func Supported(action models.Action) bool {
	_, ok := required[action]
	return ok
}

// Authorize fails with ErrForbidden when the principal's role does not grant
// the capability the action requires.
func Authorize(p models.Principal, action models.Action) error {
	need, ok := required[action]
	if !ok {
		return apperrors.Validation("unsupported action %q", action)
	}
	if p.ID == "" {
		return apperrors.Forbidden("action %s requires an identified caller", action)
	}
	for _, c := range grants[p.Role] {
		if c == need {
			return nil
		}
	}
	return apperrors.Forbidden("role %q lacks %s for action %s", p.Role, need, action)
}
