package taskq

import "github.com/PyNishanth/taskq-system/id"

// ID is the primary identifier type for all taskq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
