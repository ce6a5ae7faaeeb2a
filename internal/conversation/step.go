package conversation

// Step is one position in the fixed onboarding sequence. Prompt steps
// (Greeting, NameConfirmed, DateConfirmed, InsightDelivery) are where the
// assistant speaks; input steps are where user input is validated. A failed
// validation rewinds from the input step to its prompt step so the same
// prompt is re-asked.
type Step int

const (
	StepGreeting Step = iota
	StepNameInput
	StepNameConfirmed
	StepDateInput
	StepDateConfirmed
	StepConcernInput
	StepCalculating
	StepInsightDelivery
	StepFeedbackCollection
	StepSaving
	StepComplete
)

var stepNames = [...]string{
	"greeting",
	"name_input",
	"name_confirmed",
	"date_input",
	"date_confirmed",
	"concern_input",
	"calculating",
	"insight_delivery",
	"feedback_collection",
	"saving",
	"complete",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}

// next returns the sole successor in the fixed order.
func (s Step) next() Step {
	if s >= StepComplete {
		return StepComplete
	}
	return s + 1
}

// prompts are the localized re-askable lines per prompt step. Exact wording
// is display glue; the machine only guarantees which prompt is active.
var prompts = map[Step]string{
	StepGreeting:           "Xin chào! Bạn tên là gì?",
	StepNameConfirmed:      "Bạn sinh ngày nào?",
	StepDateConfirmed:      "Bạn đang quan tâm điều gì?",
	StepCalculating:        "Đang tính toán hồ sơ thần số học...",
	StepInsightDelivery:    "Thông tin này có hữu ích với bạn không?",
	StepFeedbackCollection: "Cảm ơn bạn!",
	StepSaving:             "Đang lưu cuộc trò chuyện...",
	StepComplete:           "Hẹn gặp lại!",
}

// Prompt returns the line the assistant speaks on entering s, if any.
func (s Step) Prompt() string { return prompts[s] }
