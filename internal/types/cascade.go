package types

// Cascade event names. The name identifies the detection rule that fired.
const (
	EventAllChildrenComplete      = "all_children_complete"
	EventFirstChildStarted        = "first_child_started"
	EventSelfAdvancement          = "self_advancement"
	EventAllFeaturesComplete      = "all_features_complete"
	EventRoleAggregationThreshold = "role_aggregation_threshold"

	// EventDetectionFailed marks a result for an entity whose cascades could
	// not be detected.
	EventDetectionFailed = "detection_failed"
)

// CascadeEvent is a proposed, not yet applied, transition on a related entity.
type CascadeEvent struct {
	Event           string     `json:"event"`
	TargetKind      EntityKind `json:"target_type"`
	TargetID        string     `json:"target_id"`
	CurrentStatus   string     `json:"current_status"`
	SuggestedStatus string     `json:"suggested_status"`
	Flow            string     `json:"flow"`
	Automatic       bool       `json:"automatic"`
	Reason          string     `json:"reason"`
}

// CascadeResult is the outcome of attempting to apply one CascadeEvent.
type CascadeResult struct {
	Event          CascadeEvent `json:"event"`
	Applied        bool         `json:"applied"`
	PreviousStatus string       `json:"previous_status"`
	NewStatus      string       `json:"new_status"`
	Error          string       `json:"error,omitempty"`
}

// UnblockedTask identifies a task whose blockers are all satisfied.
type UnblockedTask struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}
