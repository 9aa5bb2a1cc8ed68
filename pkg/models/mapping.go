package models

// MappingProposal is a proposed column mapping from the mapping advisor.
// When the advisor needs clarification it sets FollowupQuestion and returns
// a ConversationToken the caller echoes back on the next turn; the pipeline
// only ever executes a confirmed mapping.
type MappingProposal struct {
	TargetTable       string          `json:"target_table,omitempty"`
	Mappings          []ColumnMapping `json:"mappings"`
	Confidence        float64         `json:"confidence"`
	FollowupQuestion  *string         `json:"followup_question,omitempty"`
	ConversationToken string          `json:"conversation_token,omitempty"`
}

// ProposeMappingRequest is the request body for requesting a mapping proposal
type ProposeMappingRequest struct {
	FileID            string `json:"file_id" validate:"required"`
	TargetTable       string `json:"target_table,omitempty"` // empty considers all tables
	Instruction       string `json:"instruction,omitempty"`
	ConversationToken string `json:"conversation_token,omitempty"`
}
