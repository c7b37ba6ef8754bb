package model

// RevisionID is a commit as the VCS names it. Revisions are only ever
// compared for equality.
type RevisionID string

func (r RevisionID) String() string { return string(r) }

// Short abbreviates r to seven characters for display.
func (r RevisionID) Short() string {
	if len(r) <= 7 {
		return string(r)
	}
	return string(r[:7])
}

// HashValue is a hex SHA-256 digest of a tree.
type HashValue string

// EngineType names a copy engine.
type EngineType string

const EngineCopy EngineType = "copy"
