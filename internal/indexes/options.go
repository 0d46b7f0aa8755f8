package indexes

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// milestone lists the index option keys one server release introduced.
type milestone struct {
	major int
	minor int
	keys  []string
}

// optionMilestones is ordered oldest first. The allow-list for a detected
// version is the union of every milestone at or below it, so an option key
// introduced after the target server's release never reaches a command.
var optionMilestones = []milestone{
	{3, 6, []string{
		"unique",
		"sparse",
		"expireAfterSeconds",
		"partialFilterExpression",
		"collation",
		"background",
		"storageEngine",
		"weights",
		"default_language",
		"language_override",
		"textIndexVersion",
		"2dsphereIndexVersion",
		"bits",
		"min",
		"max",
		"bucketSize",
	}},
	{4, 2, []string{"wildcardProjection"}},
	{4, 4, []string{"hidden"}},
	{6, 3, []string{"columnstoreProjection"}},
	{7, 0, []string{"prepareUnique"}},
}

// AllowedOptions returns the set of index option keys the given server
// version understands.
func AllowedOptions(major, minor int) map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, m := range optionMilestones {
		if m.major > major || (m.major == major && m.minor > minor) {
			continue
		}
		for _, k := range m.keys {
			allowed[k] = struct{}{}
		}
	}
	return allowed
}

// FilterOptions strips every option key the given server version does not
// understand and returns the filtered bag plus the sorted names of the
// removed keys. The input bag is not modified.
func FilterOptions(major, minor int, opts bson.M) (bson.M, []string) {
	allowed := AllowedOptions(major, minor)

	filtered := make(bson.M, len(opts))
	var removed []string
	for k, v := range opts {
		if _, ok := allowed[k]; ok {
			filtered[k] = v
		} else {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return filtered, removed
}
