package authz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/palisade-io/palisade/internal/permissions"
	"github.com/palisade-io/palisade/internal/roles"
	"github.com/palisade-io/palisade/internal/shared"
)

func benchFixture(nRoles, permsPerRole int) *fixture {
	f := newFixture()
	f.users["alice"] = activeUser("alice", "t1", shared.LevelStandard)
	for r := 0; r < nRoles; r++ {
		roleID := fmt.Sprintf("r%d", r)
		f.roles[roleID] = roles.Role{ID: roleID, TenantID: "t1", Status: roles.StatusActive}
		f.assignments["alice"] = append(f.assignments["alice"], roles.Assignment{
			ID: fmt.Sprintf("a%d", r), UserID: "alice", RoleID: roleID, Active: true,
			EffectiveFrom: time.Now().Add(-time.Hour),
		})
		for p := 0; p < permsPerRole; p++ {
			f.rolePerms[roleID] = append(f.rolePerms[roleID],
				perm(fmt.Sprintf("p%d-%d", r, p), fmt.Sprintf("type%d", p), "read", permissions.ScopeTenant))
		}
	}
	return f
}

func BenchmarkAuthorize(b *testing.B) {
	e := benchFixture(10, 20).engine()
	req := CheckRequest{PrincipalID: "alice", ResourceType: "type19", Action: "read"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if d := e.Authorize(context.Background(), req); !d.Allowed {
			b.Fatal("expected allow")
		}
	}
}

func BenchmarkAuthorizeMultiple(b *testing.B) {
	e := benchFixture(10, 20).engine()
	items := make([]BulkItem, 20)
	for i := range items {
		items[i] = BulkItem{ResourceType: fmt.Sprintf("type%d", i), Action: "read"}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.AuthorizeMultiple(context.Background(), "alice", "", items)
	}
}
