package proc

import (
	"errors"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantMask(t *testing.T) {
	m := GrantMask([]bool{true, false, true})
	assert.True(t, m.Has(CapSummon))
	assert.False(t, m.Has(CapDismiss))
	assert.True(t, m.Has(CapPlayFile))
	assert.False(t, m.Has(CapRenameOwn))

	all := make([]bool, 40)
	for i := range all {
		all[i] = true
	}
	assert.Equal(t, MaskAll, GrantMask(all))
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "summon", CapSummon.String())
	assert.Equal(t, "rename-own", CapRenameOwn.String())
	assert.Equal(t, "capability(99)", Capability(99).String())
}

func newTestEvaluator(t *testing.T, policy int) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(sys.PermissionConfig{
		AdminIDs:     []string{"100000000000000001"},
		BlacklistIDs: []string{"100000000000000002"},
		Policy:       policy,
		Roles:        []string{"DJ", "100000000000000009"},
		Summon:       true,
		PlayFile:     true,
	})
	require.NoError(t, err)
	return e
}

func TestEvaluator_openPolicy(t *testing.T) {
	e := newTestEvaluator(t, int(PolicyOpen))

	admin := Actor{ID: snowflake.ID(100000000000000001)}
	banned := Actor{ID: snowflake.ID(100000000000000002)}
	user := Actor{ID: snowflake.ID(100000000000000003)}

	assert.Equal(t, MaskAll, e.Mask(admin))
	assert.Zero(t, e.Mask(banned))
	assert.True(t, e.Allowed(user, CapSummon))
	assert.True(t, e.Allowed(user, CapPlayFile))
	assert.False(t, e.Allowed(user, CapUpload))
}

func TestEvaluator_roleRestricted(t *testing.T) {
	e := newTestEvaluator(t, int(PolicyRoleRestricted))

	plain := Actor{ID: 5}
	byName := Actor{ID: 6, RoleNames: []string{"dj"}}
	byID := Actor{ID: 7, RoleIDs: []snowflake.ID{100000000000000009}}

	assert.Zero(t, e.Mask(plain))
	assert.True(t, e.Allowed(byName, CapSummon))
	assert.True(t, e.Allowed(byID, CapPlayFile))
}

func TestEvaluator_check(t *testing.T) {
	e := newTestEvaluator(t, int(PolicyOpen))
	err := e.Check(Actor{ID: 5}, CapDeleteAny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.Contains(t, err.Error(), "delete-any")
	assert.NoError(t, e.Check(Actor{ID: 5}, CapSummon))
}

func TestNewEvaluator_badIDs(t *testing.T) {
	_, err := NewEvaluator(sys.PermissionConfig{AdminIDs: []string{"not-an-id"}})
	assert.Error(t, err)
}
