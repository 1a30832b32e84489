package models

// RelationKind enumerates the directed edge types persisted between two
// crawled issues.
type RelationKind string

const (
	RelationRelatesTo  RelationKind = "relates_to"
	RelationBlocks     RelationKind = "blocks"
	RelationDuplicates RelationKind = "duplicates"
)

// IssueRelation is a directed edge between two persisted issues, discovered
// from the Related-Issue API and the Patch List. (SourceID, TargetID, Kind)
// is unique; SaveRelation is insert-or-ignore on that triple.
type IssueRelation struct {
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Kind     RelationKind `json:"relation_type"`
}
