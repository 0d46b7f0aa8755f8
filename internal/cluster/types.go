package cluster

import "go.mongodb.org/mongo-driver/bson"

const bytesPerMB = 1024 * 1024

// CollStats is the subset of the collStats command output that sizing and
// convergence decisions read.
type CollStats struct {
	// SizeBytes is the live (uncompressed) document size.
	SizeBytes int64
	// StorageSizeBytes is the allocated on-disk size.
	StorageSizeBytes int64
	// FreeStorageBytes is reusable space inside the allocated extents.
	// Reported by WiredTiger on 4.4+; zero elsewhere.
	FreeStorageBytes int64
	// TotalIndexBytes is the combined size of all indexes.
	TotalIndexBytes int64
	// IndexSizes maps index name to its on-disk size.
	IndexSizes map[string]int64
}

// StorageSizeMB returns the allocated size in whole megabytes.
func (s CollStats) StorageSizeMB() int64 {
	return s.StorageSizeBytes / bytesPerMB
}

// TotalSizeMB returns data plus index size in whole megabytes.
func (s CollStats) TotalSizeMB() int64 {
	return (s.StorageSizeBytes + s.TotalIndexBytes) / bytesPerMB
}

// ReclaimableBytes estimates how much compaction could free: the reported
// free-storage figure when the server provides one, otherwise the gap
// between allocated and live size.
func (s CollStats) ReclaimableBytes() int64 {
	if s.FreeStorageBytes > 0 {
		return s.FreeStorageBytes
	}
	gap := s.StorageSizeBytes - s.SizeBytes
	if gap < 0 {
		return 0
	}
	return gap
}

// DBStats is the subset of the dbStats command output used for run summaries.
type DBStats struct {
	Collections      int64
	DataSizeBytes    int64
	StorageSizeBytes int64
	IndexSizeBytes   int64
}

// StorageSizeMB returns the allocated database size in whole megabytes.
func (s DBStats) StorageSizeMB() int64 {
	return (s.StorageSizeBytes + s.IndexSizeBytes) / bytesPerMB
}

// Member is one replica-set member with its role and config tags.
type Member struct {
	Host    string
	State   string // PRIMARY, SECONDARY, ARBITER, ...
	Self    bool
	Healthy bool
	Tags    map[string]string
}

// IsPrimary reports whether the member currently holds the primary role.
func (m Member) IsPrimary() bool { return m.State == "PRIMARY" }

// IsSecondary reports whether the member currently holds the secondary role.
func (m Member) IsSecondary() bool { return m.State == "SECONDARY" }

// Zone returns the member's availability-zone tag, falling back to any tag
// value so untagged-but-labelled deployments still get spread.
func (m Member) Zone() string {
	if z, ok := m.Tags["az"]; ok {
		return z
	}
	for _, v := range m.Tags {
		return v
	}
	return ""
}

// asInt64 coerces the numeric BSON types server stats commands mix freely.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// docInt64 reads a numeric field out of a decoded command reply.
func docInt64(doc bson.M, field string) int64 {
	v, ok := doc[field]
	if !ok {
		return 0
	}
	return asInt64(v)
}
