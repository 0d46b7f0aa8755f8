// Package cluster wraps the MongoDB driver behind the handful of database
// and admin commands mongomaint issues. Engines depend on narrow interfaces
// satisfied by Client, never on the driver directly.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
)

// Client is a connected MongoDB client scoped to one deployment (or, after
// DialDirect, one node of it).
type Client struct {
	mc     *mongo.Client
	uri    string
	direct string // host when this is a single-node connection
	log    *slog.Logger
}

// Connect dials the deployment at uri and verifies the connection with a
// ping. The returned client must be closed with Close.
func Connect(ctx context.Context, uri string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	opts := options.Client().ApplyURI(uri)
	opts.SetConnectTimeout(timeout)
	opts.SetServerSelectionTimeout(timeout)
	opts.SetRetryReads(true)
	opts.SetRetryWrites(true)

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, merrors.New(merrors.ErrCodeConnect, fmt.Sprintf("failed to connect to %s", redactURI(uri)), err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, merrors.New(merrors.ErrCodeConnect, fmt.Sprintf("failed to ping %s", redactURI(uri)), err)
	}

	return &Client{mc: mc, uri: uri, log: log}, nil
}

// DialDirect opens a single-node connection to one member of the same
// deployment, reusing the seed URI's credentials and TLS settings. Used for
// commands that act on the node the connection lands on (compact,
// autoCompact, currentOp).
func (c *Client) DialDirect(ctx context.Context, host string) (*Client, error) {
	opts := options.Client().ApplyURI(c.uri)
	opts.SetHosts([]string{host})
	opts.SetDirect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetServerSelectionTimeout(10 * time.Second)
	// Direct reads must be allowed on secondaries.
	opts.SetReadPreference(readpref.PrimaryPreferred())

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, merrors.New(merrors.ErrCodeConnect, fmt.Sprintf("failed to dial node %s", host), err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, merrors.New(merrors.ErrCodeConnect, fmt.Sprintf("failed to ping node %s", host), err)
	}

	return &Client{mc: mc, uri: c.uri, direct: host, log: c.log}, nil
}

// Host returns the node this client is pinned to, empty for seed clients.
func (c *Client) Host() string { return c.direct }

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	return c.mc.Disconnect(ctx)
}

// Ping verifies the deployment is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.mc.Ping(ctx, nil)
}

// ServerVersion probes the server release via buildInfo. An unparseable
// version string degrades to the supported baseline instead of failing:
// assuming an older server is always safe, assuming a newer one is not.
func (c *Client) ServerVersion(ctx context.Context) (Version, error) {
	var reply struct {
		Version string `bson:"version"`
	}
	res := c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}})
	if err := res.Decode(&reply); err != nil {
		return Version{}, merrors.ServerError("buildInfo failed", err)
	}

	v, err := ParseVersion(reply.Version)
	if err != nil {
		c.log.Warn("could not parse server version, assuming baseline",
			slog.String("reported", reply.Version),
			slog.String("baseline", Baseline.String()))
		return Baseline, nil
	}
	return v, nil
}

// ListCollections returns the sorted collection names of a database.
func (c *Client) ListCollections(ctx context.Context, db string) ([]string, error) {
	names, err := c.mc.Database(db).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, merrors.ServerError(fmt.Sprintf("failed to list collections of %s", db), err)
	}
	sort.Strings(names)
	return names, nil
}

// DatabaseExists reports whether the named database exists on the server.
func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	names, err := c.mc.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, merrors.ServerError("failed to list databases", err)
	}
	return len(names) > 0, nil
}

// ListIndexes reads every index descriptor of a collection, including
// build-in-progress markers. It runs the raw listIndexes command because the
// driver's IndexView does not expose includeBuildUUIDs. A collection holds
// at most 64 indexes, so the first batch is always complete.
func (c *Client) ListIndexes(ctx context.Context, db, coll string) ([]indexes.Descriptor, error) {
	cmd := bson.D{
		{Key: "listIndexes", Value: coll},
		{Key: "includeBuildUUIDs", Value: true},
	}
	var reply struct {
		Cursor struct {
			FirstBatch []bson.D `bson:"firstBatch"`
		} `bson:"cursor"`
	}
	res := c.mc.Database(db).RunCommand(ctx, cmd)
	if err := res.Decode(&reply); err != nil {
		return nil, merrors.ServerError(fmt.Sprintf("listIndexes failed for %s.%s", db, coll), err)
	}

	descs := make([]indexes.Descriptor, 0, len(reply.Cursor.FirstBatch))
	for _, doc := range reply.Cursor.FirstBatch {
		d, err := indexes.Parse(doc)
		if err != nil {
			return nil, merrors.ServerError(fmt.Sprintf("bad index descriptor in %s.%s", db, coll), err)
		}
		descs = append(descs, d)
	}

	// Attach sizes so callers can order work largest-first.
	if stats, err := c.CollStats(ctx, db, coll); err == nil {
		for i := range descs {
			descs[i].SizeBytes = stats.IndexSizes[descs[i].Name]
		}
	}

	return descs, nil
}

// CreateIndex creates one index via the raw createIndexes command, so
// arbitrary (already version-filtered) option bags pass through untouched.
func (c *Client) CreateIndex(ctx context.Context, db, coll, name string, keys bson.D, opts bson.M) error {
	idx := bson.M{"key": keys, "name": name}
	for k, v := range opts {
		idx[k] = v
	}
	cmd := bson.D{
		{Key: "createIndexes", Value: coll},
		{Key: "indexes", Value: bson.A{idx}},
	}
	if err := c.mc.Database(db).RunCommand(ctx, cmd).Err(); err != nil {
		return merrors.ServerError(fmt.Sprintf("createIndexes %s on %s.%s failed", name, db, coll), err)
	}
	return nil
}

// DropIndex drops one index by name. Absent indexes are not an error; crash
// recovery and retry cleanup both drop speculatively.
func (c *Client) DropIndex(ctx context.Context, db, coll, name string) error {
	cmd := bson.D{
		{Key: "dropIndexes", Value: coll},
		{Key: "index", Value: name},
	}
	err := c.mc.Database(db).RunCommand(ctx, cmd).Err()
	if err != nil && !IsNotFound(err) {
		return merrors.ServerError(fmt.Sprintf("dropIndexes %s on %s.%s failed", name, db, coll), err)
	}
	return nil
}

// IndexStats returns the index names visible to the $indexStats aggregation.
// An index absent from the result is still being built (or gone). Restricted
// tiers may deny the aggregation; callers detect that with IsUnauthorized
// and fall back to the descriptor's build marker alone.
func (c *Client) IndexStats(ctx context.Context, db, coll string) ([]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$indexStats", Value: bson.D{}}},
	}
	cur, err := c.mc.Database(db).Collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var names []string
	for cur.Next(ctx) {
		var doc struct {
			Name string `bson:"name"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		names = append(names, doc.Name)
	}
	return names, cur.Err()
}

// CollStats reads the collection's size statistics.
func (c *Client) CollStats(ctx context.Context, db, coll string) (CollStats, error) {
	var doc bson.M
	res := c.mc.Database(db).RunCommand(ctx, bson.D{{Key: "collStats", Value: coll}})
	if err := res.Decode(&doc); err != nil {
		return CollStats{}, merrors.ServerError(fmt.Sprintf("collStats failed for %s.%s", db, coll), err)
	}

	stats := CollStats{
		SizeBytes:        docInt64(doc, "size"),
		StorageSizeBytes: docInt64(doc, "storageSize"),
		FreeStorageBytes: docInt64(doc, "freeStorageSize"),
		TotalIndexBytes:  docInt64(doc, "totalIndexSize"),
	}
	if sizes, ok := doc["indexSizes"].(bson.M); ok {
		stats.IndexSizes = make(map[string]int64, len(sizes))
		for name, v := range sizes {
			stats.IndexSizes[name] = asInt64(v)
		}
	}
	return stats, nil
}

// DBStats reads the database's size statistics.
func (c *Client) DBStats(ctx context.Context, db string) (DBStats, error) {
	var doc bson.M
	res := c.mc.Database(db).RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}})
	if err := res.Decode(&doc); err != nil {
		return DBStats{}, merrors.ServerError(fmt.Sprintf("dbStats failed for %s", db), err)
	}
	return DBStats{
		Collections:      docInt64(doc, "collections"),
		DataSizeBytes:    docInt64(doc, "dataSize"),
		StorageSizeBytes: docInt64(doc, "storageSize"),
		IndexSizeBytes:   docInt64(doc, "indexSize"),
	}, nil
}

// ReplicaSetName returns the replica set name from the handshake, or empty
// for standalone deployments.
func (c *Client) ReplicaSetName(ctx context.Context) (string, error) {
	doc, err := c.hello(ctx)
	if err != nil {
		return "", err
	}
	name, _ := doc["setName"].(string)
	return name, nil
}

// IsPrimary reports whether the node this client is connected to currently
// holds the primary role.
func (c *Client) IsPrimary(ctx context.Context) (bool, error) {
	doc, err := c.hello(ctx)
	if err != nil {
		return false, err
	}
	if v, ok := doc["isWritablePrimary"].(bool); ok {
		return v, nil
	}
	v, _ := doc["ismaster"].(bool)
	return v, nil
}

// hello runs the hello command, degrading to isMaster for pre-5.0 servers.
func (c *Client) hello(ctx context.Context) (bson.M, error) {
	var doc bson.M
	res := c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}})
	err := res.Decode(&doc)
	if err == nil {
		return doc, nil
	}
	res = c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}})
	if derr := res.Decode(&doc); derr != nil {
		return nil, merrors.ServerError("hello failed", err)
	}
	return doc, nil
}

// Members merges replSetGetStatus (live roles) with replSetGetConfig (tags)
// into one view of the replica set.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var status struct {
		Members []struct {
			Name     string `bson:"name"`
			StateStr string `bson:"stateStr"`
			Health   int    `bson:"health"`
			Self     bool   `bson:"self"`
		} `bson:"members"`
	}
	res := c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}})
	if err := res.Decode(&status); err != nil {
		return nil, merrors.ServerError("replSetGetStatus failed", err)
	}

	tagsByHost := map[string]map[string]string{}
	var conf struct {
		Config struct {
			Members []struct {
				Host string            `bson:"host"`
				Tags map[string]string `bson:"tags"`
			} `bson:"members"`
		} `bson:"config"`
	}
	res = c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetConfig", Value: 1}})
	if err := res.Decode(&conf); err == nil {
		for _, m := range conf.Config.Members {
			tagsByHost[m.Host] = m.Tags
		}
	}

	members := make([]Member, 0, len(status.Members))
	for _, m := range status.Members {
		members = append(members, Member{
			Host:    m.Name,
			State:   m.StateStr,
			Self:    m.Self,
			Healthy: m.Health == 1,
			Tags:    tagsByHost[m.Name],
		})
	}
	return members, nil
}

// StepDown asks the primary to step down for the given number of seconds.
// The server drops client connections as part of stepping down, so a bare
// network error here means the command worked.
func (c *Client) StepDown(ctx context.Context, seconds int) error {
	cmd := bson.D{{Key: "replSetStepDown", Value: seconds}}
	err := c.mc.Database("admin").RunCommand(ctx, cmd).Err()
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return merrors.New(merrors.ErrCodeStepDown, "replSetStepDown rejected", err)
	}
	c.log.Debug("connection dropped during step-down, treating as success",
		slog.String("error", err.Error()))
	return nil
}

// Compact runs a blocking manual compaction of one collection on the node
// this client is connected to.
func (c *Client) Compact(ctx context.Context, db, coll string) error {
	cmd := bson.D{
		{Key: "compact", Value: coll},
		{Key: "force", Value: true},
	}
	if err := c.mc.Database(db).RunCommand(ctx, cmd).Err(); err != nil {
		return merrors.ServerError(fmt.Sprintf("compact failed for %s.%s", db, coll), err)
	}
	return nil
}

// CompactEstimate runs a dry-run compaction (8.0+) and returns the estimated
// number of bytes a real compaction would free.
func (c *Client) CompactEstimate(ctx context.Context, db, coll string) (int64, error) {
	cmd := bson.D{
		{Key: "compact", Value: coll},
		{Key: "dryRun", Value: true},
	}
	var doc bson.M
	res := c.mc.Database(db).RunCommand(ctx, cmd)
	if err := res.Decode(&doc); err != nil {
		return 0, merrors.ServerError(fmt.Sprintf("compact dry run failed for %s.%s", db, coll), err)
	}
	return docInt64(doc, "bytesFreed"), nil
}

// EnableAutoCompact starts the server-managed background compaction job on
// the node this client is connected to (8.0+). With runOnce the job visits
// every collection on the node once and then stops.
func (c *Client) EnableAutoCompact(ctx context.Context, freeSpaceTargetMB int64) error {
	cmd := bson.D{
		{Key: "autoCompact", Value: true},
		{Key: "runOnce", Value: true},
	}
	if freeSpaceTargetMB > 0 {
		cmd = append(cmd, bson.E{Key: "freeSpaceTargetMB", Value: freeSpaceTargetMB})
	}
	if err := c.mc.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return merrors.ServerError("failed to enable background compaction", err)
	}
	return nil
}

// DisableAutoCompact turns the background compaction job off again.
func (c *Client) DisableAutoCompact(ctx context.Context) error {
	cmd := bson.D{{Key: "autoCompact", Value: false}}
	if err := c.mc.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return merrors.ServerError("failed to disable background compaction", err)
	}
	return nil
}

// AutoCompactRunning reports whether the node's active-operation list still
// shows background compaction activity.
func (c *Client) AutoCompactRunning(ctx context.Context) (bool, error) {
	var reply struct {
		Inprog []bson.M `bson:"inprog"`
	}
	res := c.mc.Database("admin").RunCommand(ctx, bson.D{{Key: "currentOp", Value: true}})
	if err := res.Decode(&reply); err != nil {
		return false, merrors.ServerError("currentOp failed", err)
	}
	for _, op := range reply.Inprog {
		if desc, ok := op["desc"].(string); ok && desc == "autoCompact" {
			return true, nil
		}
		if msg, ok := op["msg"].(string); ok && msg == "autoCompact" {
			return true, nil
		}
	}
	return false, nil
}

// IsNotFound reports whether err is the server telling us an index or
// namespace does not exist.
func IsNotFound(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// 26 NamespaceNotFound, 27 IndexNotFound
		return cmdErr.Code == 26 || cmdErr.Code == 27
	}
	return false
}

// IsUnauthorized reports whether err is a permission denial, which restricted
// tiers return for $indexStats and currentOp.
func IsUnauthorized(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 13
	}
	return false
}

// redactURI strips credentials from a connection string for log lines.
func redactURI(uri string) string {
	schemeEnd := 0
	for i := 0; i+2 < len(uri); i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			schemeEnd = i + 3
			break
		}
	}
	for i := schemeEnd; i < len(uri); i++ {
		if uri[i] == '@' {
			return uri[:schemeEnd] + "***@" + uri[i+1:]
		}
	}
	return uri
}
