package models

import "time"

// Batch is a cohort of birds tracked together from entry to exit. It is owned
// by the production module and only read here.
type Batch struct {
	ID              string    `bson:"_id" json:"id"`
	BatchNumber     string    `bson:"batch_number" json:"batchNumber"`
	OwnerID         string    `bson:"owner_id" json:"ownerId"`
	Breed           string    `bson:"breed,omitempty" json:"breed,omitempty"`
	EntryDate       time.Time `bson:"entry_date" json:"entryDate"`
	EntryQuantity   int       `bson:"entry_quantity" json:"entryQuantity"`
	CurrentQuantity int       `bson:"current_quantity" json:"currentQuantity"`
	UnitPrice       float64   `bson:"unit_price" json:"unitPrice"`
}

// LiveQuantity returns the current head count floored at 1 so it can be used
// as an allocation base.
func (b Batch) LiveQuantity() int {
	if b.CurrentQuantity < 1 {
		return 1
	}
	return b.CurrentQuantity
}

// FeedUsageRecord captures feed consumed by a batch.
type FeedUsageRecord struct {
	ID         string    `bson:"_id" json:"id"`
	BatchID    string    `bson:"batch_id" json:"batchId"`
	FeedName   string    `bson:"feed_name,omitempty" json:"feedName,omitempty"`
	Quantity   float64   `bson:"quantity" json:"quantity"`
	FeedCount  *int      `bson:"feed_count,omitempty" json:"feedCount,omitempty"`
	TotalCost  float64   `bson:"total_cost" json:"totalCost"`
	RecordDate time.Time `bson:"record_date" json:"recordDate"`
	IsDeleted  bool      `bson:"is_deleted" json:"isDeleted"`
	CreatedBy  string    `bson:"created_by,omitempty" json:"createdBy,omitempty"`
}

// MaterialUsageRecord captures non-feed material consumed by a batch.
type MaterialUsageRecord struct {
	ID           string    `bson:"_id" json:"id"`
	BatchID      string    `bson:"batch_id" json:"batchId"`
	MaterialName string    `bson:"material_name,omitempty" json:"materialName,omitempty"`
	Quantity     float64   `bson:"quantity" json:"quantity"`
	UsageCount   *int      `bson:"usage_count,omitempty" json:"usageCount,omitempty"`
	TotalCost    float64   `bson:"total_cost" json:"totalCost"`
	RecordDate   time.Time `bson:"record_date" json:"recordDate"`
	IsDeleted    bool      `bson:"is_deleted" json:"isDeleted"`
	CreatedBy    string    `bson:"created_by,omitempty" json:"createdBy,omitempty"`
}

// AllocationCount returns the head count this usage record was spread over:
// the explicit count when present, otherwise the stated quantity.
func (r FeedUsageRecord) AllocationCount() float64 {
	if r.FeedCount != nil && *r.FeedCount > 0 {
		return float64(*r.FeedCount)
	}
	if r.Quantity > 0 {
		return r.Quantity
	}
	return 0
}

// AllocationCount mirrors FeedUsageRecord.AllocationCount.
func (r MaterialUsageRecord) AllocationCount() float64 {
	if r.UsageCount != nil && *r.UsageCount > 0 {
		return float64(*r.UsageCount)
	}
	if r.Quantity > 0 {
		return r.Quantity
	}
	return 0
}
