package authz

import (
	"context"
	"time"
)

// Affordance is a UI surface gated by an authorization question. The
// frontend renders a control only when its affordance comes back visible;
// the gateway and the engine still check the real operation, so hiding is
// cosmetic and showing is never authoritative.
type Affordance struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
}

// VisibleAffordance is an affordance with its computed visibility.
type VisibleAffordance struct {
	Affordance
	Visible bool   `json:"visible"`
	Source  string `json:"source,omitempty"`
}

// DefaultAffordances is the full built-in UI manifest, the union of every
// module manifest.
var DefaultAffordances = []Affordance{
	{Key: "users.manage", Label: "User management", ResourceType: "user", Action: "manage"},
	{Key: "roles.manage", Label: "Role management", ResourceType: "role", Action: "manage"},
	{Key: "documents.read", Label: "Documents", ResourceType: "document", Action: "read"},
	{Key: "documents.write", Label: "Edit documents", ResourceType: "document", Action: "update"},
	{Key: "reports.read", Label: "Reports", ResourceType: "report", Action: "read"},
	{Key: "reports.export", Label: "Export reports", ResourceType: "report", Action: "export"},
	{Key: "audit.read", Label: "Audit trail", ResourceType: "audit", Action: "read"},
}

// ModuleManifests keys per-module affordance grids for the UI endpoint.
var ModuleManifests = map[string][]Affordance{
	"admin":     {DefaultAffordances[0], DefaultAffordances[1]},
	"documents": {DefaultAffordances[2], DefaultAffordances[3]},
	"reports":   {DefaultAffordances[4], DefaultAffordances[5]},
	"audit":     {DefaultAffordances[6]},
}

// Affordances computes coarse visibility for every manifest entry from one
// candidate set, so a page load costs one pipeline regardless of manifest
// size.
func (e *Engine) Affordances(ctx context.Context, principalID, country string, manifest []Affordance) ([]VisibleAffordance, error) {
	if len(manifest) == 0 {
		manifest = DefaultAffordances
	}
	now := time.Now().UTC()
	out := make([]VisibleAffordance, len(manifest))
	for i, a := range manifest {
		out[i] = VisibleAffordance{Affordance: a}
	}

	principal, err := e.users.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !principal.IsActive() || !principal.PermittedAt(now, country) {
		return out, nil
	}
	candidates, emergencies, err := e.candidates(ctx, principal, now, country)
	if err != nil {
		return nil, err
	}
	for i, a := range manifest {
		for _, c := range candidates {
			if !c.Permission.Matches(a.ResourceType, a.Action) {
				continue
			}
			if !principal.Clearance.Dominates(c.Permission.MinClearance) {
				continue
			}
			out[i].Visible = true
			out[i].Source = c.Source
			break
		}
		if out[i].Visible {
			continue
		}
		for _, grant := range emergencies {
			if grant.IsActive(now) && grant.Covers(a.ResourceType, a.Action, "") {
				out[i].Visible = true
				out[i].Source = SourceEmergency
				break
			}
		}
	}
	return out, nil
}
