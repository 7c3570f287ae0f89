// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord is wrapped by every error returned from Validate.
var ErrInvalidRecord = errors.New("invalid inspection record")

// InspectionRecord is one sorting result entered by an operator.
type InspectionRecord struct {
	PartNo             string  `json:"part_no"`
	PartName           string  `json:"part_name,omitempty"`
	QuantityAllSorting int     `json:"quantity_all_sorting"`
	QuantityNg         int     `json:"quantity_ng"`
	OperatorName       string  `json:"operator_name"`
	FactoryID          *string `json:"factory_id"`
	FactoryName        string  `json:"factory_name,omitempty"`
	NgType             *string `json:"ng_type,omitempty"`
	// RejectImage holds a data URL (data:image/<fmt>;base64,<payload>).
	RejectImage *string `json:"reject_image_base64,omitempty"`
}

// QueuedRecord is an InspectionRecord waiting in the local queue.
// ID is local to the queue and never sent to the remote store.
type QueuedRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ClientRef string    `json:"client_ref,omitempty"`
	InspectionRecord
}

// HasImage reports whether a reject image is attached.
func (r InspectionRecord) HasImage() bool {
	return r.RejectImage != nil && *r.RejectImage != ""
}

// HasFactory reports whether the factory id is already resolved.
func (r InspectionRecord) HasFactory() bool {
	return r.FactoryID != nil && *r.FactoryID != ""
}

// Validate checks the fields an operator has to fill in before submitting.
// QuantityNg > QuantityAllSorting is accepted.
func (r InspectionRecord) Validate() error {
	switch {
	case strings.TrimSpace(r.PartNo) == "":
		return fmt.Errorf("%w: part number is required", ErrInvalidRecord)
	case strings.TrimSpace(r.OperatorName) == "":
		return fmt.Errorf("%w: operator name is required", ErrInvalidRecord)
	case r.QuantityAllSorting < 0:
		return fmt.Errorf("%w: quantity_all_sorting must not be negative", ErrInvalidRecord)
	case r.QuantityNg < 0:
		return fmt.Errorf("%w: quantity_ng must not be negative", ErrInvalidRecord)
	}

	return nil
}

// NormalizePartNo cleans up a scanned or typed part number.
func NormalizePartNo(raw string) string {
	return strings.TrimSpace(raw)
}

// Factory is a row of the factories table.
type Factory struct {
	ID          string `json:"id"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
}

// Part is a row of parts_master.
type Part struct {
	PartNo   string `json:"part_no"`
	PartName string `json:"part_name"`
}

// ProductionStatus is one dashboard status tile.
type ProductionStatus struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	SortOrder int    `json:"sort_order"`
}

// SortingLog is a persisted sorting_logs row joined with its names.
type SortingLog struct {
	ID                 string    `json:"id"`
	PartNo             string    `json:"part_no"`
	PartName           string    `json:"part_name,omitempty"`
	QuantityAllSorting int       `json:"quantity_all_sorting"`
	QuantityNg         int       `json:"quantity_ng"`
	OperatorName       string    `json:"operator_name"`
	FactoryName        string    `json:"factory_name,omitempty"`
	RejectImageURL     *string   `json:"reject_image_url,omitempty"`
	NgType             *string   `json:"ng_type,omitempty"`
	LoggedAt           time.Time `json:"logged_at"`
}

// NewSortingLog is the payload written to sorting_logs.
// LoggedAt nil lets the database assign the time.
type NewSortingLog struct {
	PartNo             string
	QuantityAllSorting int
	QuantityNg         int
	OperatorName       string
	FactoryID          *string
	RejectImageURL     *string
	NgType             *string
	LoggedAt           *time.Time
	ClientRef          *string
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
