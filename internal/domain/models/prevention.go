package models

import "time"

// PreventionType enumerates preventive care events.
type PreventionType string

const (
	PreventionVaccine      PreventionType = "vaccine"
	PreventionDisinfection PreventionType = "disinfection"
	PreventionNutrition    PreventionType = "nutrition"
)

// CostInfo is the normalized cost breakdown attached to prevention and
// treatment records. TotalCost is authoritative once normalized.
type CostInfo struct {
	MedicationCost float64 `bson:"medication_cost" json:"medicationCost"`
	VeterinaryCost float64 `bson:"veterinary_cost" json:"veterinaryCost"`
	SupportiveCost float64 `bson:"supportive_cost" json:"supportiveCost"`
	OtherCost      float64 `bson:"other_cost" json:"otherCost"`
	TotalCost      float64 `bson:"total_cost" json:"totalCost"`
}

// Normalize fills TotalCost from the parts when it was not provided.
func (c CostInfo) Normalize() CostInfo {
	if c.TotalCost <= 0 {
		c.TotalCost = c.MedicationCost + c.VeterinaryCost + c.SupportiveCost + c.OtherCost
	}
	return c
}

// VaccineInfo carries the vaccination specific fields of a prevention record.
type VaccineInfo struct {
	Name             string `bson:"name" json:"name"`
	Manufacturer     string `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Route            string `bson:"route,omitempty" json:"route,omitempty"`
	DoseCount        int    `bson:"dose_count" json:"doseCount"`
	AdverseReactions int    `bson:"adverse_reactions" json:"adverseReactions"`
}

// PreventionRecord is a vaccination, disinfection or nutritional-care event.
type PreventionRecord struct {
	ID          string         `bson:"_id" json:"id"`
	BatchID     string         `bson:"batch_id" json:"batchId"`
	BatchNumber string         `bson:"batch_number,omitempty" json:"batchNumber,omitempty"`
	Type        PreventionType `bson:"type" json:"type"`
	TargetCount int            `bson:"target_count" json:"targetCount"`
	CostInfo    *CostInfo      `bson:"cost_info,omitempty" json:"costInfo,omitempty"`
	Vaccine     *VaccineInfo   `bson:"vaccine,omitempty" json:"vaccine,omitempty"`
	RecordDate  time.Time      `bson:"record_date" json:"recordDate"`
	IsDeleted   bool           `bson:"is_deleted" json:"isDeleted"`
	CreatedBy   string         `bson:"created_by,omitempty" json:"createdBy,omitempty"`
}

// IsVaccination reports whether the record is a vaccination with vaccine details.
func (p PreventionRecord) IsVaccination() bool {
	return p.Type == PreventionVaccine && p.Vaccine != nil
}

// Cost returns the record's total cost, zero when no breakdown is attached.
func (p PreventionRecord) Cost() float64 {
	if p.CostInfo == nil {
		return 0
	}
	return p.CostInfo.Normalize().TotalCost
}
