// Package graph provides Neo4j-backed knowledge graph storage for the
// entities and relationships extracted from financial documents.
package graph

import "github.com/finkg-labs/finkg/engine/domain"

// Entity and Edge are graph.go's vocabulary; they are the same types the
// rest of the module uses, re-exported here so callers of this package
// don't need a second import for storage-shaped data.
type Entity = domain.Entity
type Edge = domain.Edge
