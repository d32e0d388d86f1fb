// Package resources holds the protected resource entity model.
package resources

import (
	"strconv"
	"time"

	"github.com/palisade-io/palisade/internal/shared"
)

// Resource is the object of an authorization check and the unit row-level
// filtering operates on.
type Resource struct {
	ID             string             `json:"id"`
	TenantID       string             `json:"tenant_id"`
	Type           string             `json:"type"`
	Name           string             `json:"name"`
	OwnerID        string             `json:"owner_id"`
	DepartmentID   string             `json:"department_id,omitempty"`
	Classification shared.AccessLevel `json:"classification"`
	// Attributes feed custom constraint predicates.
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ConstraintAttributes returns the attribute view evaluated by permission
// predicates, including the built-in classification field.
func (r Resource) ConstraintAttributes() map[string]string {
	attrs := make(map[string]string, len(r.Attributes)+1)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs["classification"] = strconv.Itoa(int(r.Classification))
	return attrs
}
