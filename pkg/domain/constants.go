package domain

// Field constants for mapstructure and JSON standardization.
const (
	// KeyHardStop is the result data key a validation gate sets to veto the workflow.
	KeyHardStop = "hard_stop"

	// KeyHardStopReason carries the human readable reason of a hard stop.
	KeyHardStopReason = "hard_stop_reason"

	// KeyProceed is the result data key the decision agent sets for its go/no-go outcome.
	KeyProceed = "proceed"

	// KeyScore is the result data key for a 0-100 score reported by gates and judges.
	KeyScore = "score"

	// KeyDocuments is the blackboard key listing the intake document inventory.
	KeyDocuments = "documents"

	// KeyFeedback is the input key carrying refinement feedback to an agent.
	KeyFeedback = "refinement_feedback"

	// KeyLongTermMemory is the working context key under which persistent memory is compiled.
	KeyLongTermMemory = "long_term_memory"
)
