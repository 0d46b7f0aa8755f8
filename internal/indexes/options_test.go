package indexes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestAllowedOptions_Cumulative(t *testing.T) {
	// Given: a 4.2 server
	allowed42 := AllowedOptions(4, 2)

	// Then: baseline and 4.2 options are present, 4.4+ options are not
	assert.Contains(t, allowed42, "unique")
	assert.Contains(t, allowed42, "partialFilterExpression")
	assert.Contains(t, allowed42, "wildcardProjection")
	assert.NotContains(t, allowed42, "hidden")
	assert.NotContains(t, allowed42, "columnstoreProjection")

	// And: a 4.4 server additionally understands hidden
	allowed44 := AllowedOptions(4, 4)
	assert.Contains(t, allowed44, "hidden")

	// And: a 7.0 server understands everything up to prepareUnique
	allowed70 := AllowedOptions(7, 0)
	assert.Contains(t, allowed70, "columnstoreProjection")
	assert.Contains(t, allowed70, "prepareUnique")
}

func TestFilterOptions_StripsUnsupportedKeys(t *testing.T) {
	// Given: an option bag requesting hidden against a 4.2 server
	opts := bson.M{
		"unique":             true,
		"hidden":             true,
		"expireAfterSeconds": int32(300),
	}

	// When: filtering for 4.2
	filtered, removed := FilterOptions(4, 2, opts)

	// Then: hidden is stripped and reported, the rest survives
	assert.NotContains(t, filtered, "hidden")
	assert.Equal(t, []string{"hidden"}, removed)
	assert.Equal(t, true, filtered["unique"])
	assert.Equal(t, int32(300), filtered["expireAfterSeconds"])

	// And: the input bag is untouched
	assert.Contains(t, opts, "hidden")
}

func TestFilterOptions_PassesEverythingOnCurrentServer(t *testing.T) {
	// Given: the same bag against a 4.4 server
	opts := bson.M{"unique": true, "hidden": true}

	// When: filtering for 4.4
	filtered, removed := FilterOptions(4, 4, opts)

	// Then: nothing is removed
	require.Empty(t, removed)
	assert.Equal(t, true, filtered["hidden"])
	assert.Equal(t, true, filtered["unique"])
}

func TestFilterOptions_EmptyBag(t *testing.T) {
	filtered, removed := FilterOptions(4, 0, bson.M{})
	assert.Empty(t, filtered)
	assert.Empty(t, removed)
}
