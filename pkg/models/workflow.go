package models

// Step names a node of the search workflow graph.
type Step string

const (
	StepValidateInput    Step = "validate_input"
	StepSearchDocuments  Step = "search_documents"
	StepPrepareContext   Step = "prepare_context"
	StepSummarizeResults Step = "summarize_results"
	StepAnalyzeResults   Step = "analyze_results"
	StepFormatStructured Step = "format_structured"
	StepHandleError      Step = "handle_error"
	StepEnd              Step = "END"
)

// Outcome is the tag a step reports to drive the next transition.
type Outcome string

const (
	OutcomeContinue Outcome = "continue"
	OutcomeError    Outcome = "error"
)

// PreparedContext is the bounded context payload built from search results.
type PreparedContext struct {
	Text      string     `json:"text"`
	Documents []Document `json:"documents"` // documents that made it into Text, in order
	Truncated bool       `json:"truncated"`
}

// WorkflowState is owned by a single workflow run and never shared.
type WorkflowState struct {
	Query     Query
	Documents []Document
	Prepared  PreparedContext
	UsedLLM   bool
	Path      []Step

	// Err and Output are terminal and mutually exclusive.
	Err    error
	Output string
}

// Failed reports whether the run terminated through the error path.
func (s *WorkflowState) Failed() bool {
	return s.Err != nil
}
