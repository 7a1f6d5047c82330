package document

// Field names of the documents exchanged during the leader handshake and in
// configuration pushes.
const (
	FieldClusterName        = "clusterName"
	FieldClusterKey         = "clusterKey"
	FieldLeaderNodeAddress  = "leaderNodeAddress"
	FieldLeaderRunningSince = "leaderNodeRunningSince"
	// list of database names in a peer's configuration; database name to
	// list of peer ids in the leader's answer and in configuration pushes
	FieldDatabases = "databases"
)
