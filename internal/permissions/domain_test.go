package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateEvaluate(t *testing.T) {
	attrs := map[string]string{"region": "emea", "cost": "400"}

	var nilPred *Predicate
	assert.True(t, nilPred.Evaluate(attrs), "no predicate passes")

	assert.True(t, (&Predicate{Field: "region", Op: "eq", Value: "emea"}).Evaluate(attrs))
	assert.False(t, (&Predicate{Field: "region", Op: "eq", Value: "apac"}).Evaluate(attrs))
	assert.True(t, (&Predicate{Field: "cost", Op: "lte", Value: "500"}).Evaluate(attrs))
	assert.True(t, (&Predicate{Field: "region", Op: "in", Set: []string{"emea", "apac"}}).Evaluate(attrs))
	assert.False(t, (&Predicate{Field: "region", Op: "in", Set: []string{"amer"}}).Evaluate(attrs))

	assert.False(t, (&Predicate{Field: "missing", Op: "eq", Value: "x"}).Evaluate(attrs),
		"absent attribute fails")
	assert.False(t, (&Predicate{Field: "region", Op: "regex", Value: ".*"}).Evaluate(attrs),
		"unknown operator fails closed")
}

func TestGrantActivationWindow(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, Grant{Active: true, EffectiveFrom: past}.IsActive(now))
	assert.False(t, Grant{Active: false, EffectiveFrom: past}.IsActive(now))
	assert.False(t, Grant{Active: true, EffectiveFrom: future}.IsActive(now), "not yet effective")
	assert.False(t, Grant{Active: true, EffectiveFrom: past, ExpiresAt: &past}.IsActive(now), "expired")
	assert.True(t, Grant{Active: true, EffectiveFrom: past, ExpiresAt: &future}.IsActive(now))
}

func TestDecodePredicate(t *testing.T) {
	pred, err := DecodePredicate([]byte(`{"field":"region","op":"eq","value":"emea"}`))
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, "region", pred.Field)

	pred, err = DecodePredicate(nil)
	require.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = DecodePredicate([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, pred)

	// A row whose predicate no longer parses must not decode to the
	// unconstrained nil predicate.
	_, err = DecodePredicate([]byte(`{"field":`))
	assert.Error(t, err)
}
