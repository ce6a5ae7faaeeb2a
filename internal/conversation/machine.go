package conversation

import "time"

// Collected holds the answers gathered over one onboarding run. Each field is
// written exactly once, by the operation whose job is to produce it.
type Collected struct {
	FullName     string
	BirthDateISO string
	ConcernText  string
	ProfileRef   string
	InsightText  string
	Feedback     *bool
}

// Result is the outcome of a single machine operation. Validation and timeout
// failures are reported here, never as errors or panics, so the caller can
// re-prompt.
type Result struct {
	OK       bool
	Step     Step
	Prompt   string
	Code     Code
	Message  string
	CanRetry bool
	Attempt  int
}

// Sink receives step-change and error notifications for display. It must not
// call back into the machine.
type Sink interface {
	StepChanged(step Step, prompt string)
	StepError(code Code, message string, canRetry bool)
}

// Machine is the per-session conversation state machine. It holds no internal
// locking: all calls for one session must come from a single logical thread
// of control (the voice-turn loop).
type Machine struct {
	stepTimeout time.Duration
	maxRetries  int
	nowFn       func() time.Time
	sink        Sink

	step       Step
	collected  Collected
	retryCount int
	createdAt  time.Time
	deadline   time.Time
	aborted    bool
	done       bool
}

func NewMachine(stepTimeout time.Duration, maxRetries int) *Machine {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Machine{
		stepTimeout: stepTimeout,
		maxRetries:  maxRetries,
		nowFn:       time.Now,
	}
}

// SetSink attaches a notification sink. Call before Start.
func (m *Machine) SetSink(s Sink) { m.sink = s }

func (m *Machine) Step() Step           { return m.step }
func (m *Machine) Collected() Collected { return m.collected }
func (m *Machine) RetryCount() int      { return m.retryCount }
func (m *Machine) Deadline() time.Time  { return m.deadline }
func (m *Machine) Aborted() bool        { return m.aborted }
func (m *Machine) Done() bool           { return m.done }

// Start resets to Greeting, clears collected data, and arms the step deadline.
func (m *Machine) Start() Result {
	now := m.nowFn()
	m.step = StepGreeting
	m.collected = Collected{}
	m.retryCount = 0
	m.createdAt = now
	m.deadline = now.Add(m.stepTimeout)
	m.aborted = false
	m.done = false
	m.notifyStep(StepGreeting)
	return m.ok()
}

// SubmitName accepts the user's full name while the greeting prompt is
// active. Success advances through NameInput to NameConfirmed.
func (m *Machine) SubmitName(text string) Result {
	if r := m.guard(StepGreeting); r != nil {
		return *r
	}
	if r := m.checkDeadline(); r != nil {
		return *r
	}
	name, code := ValidateName(text)
	if code != CodeOK {
		return m.fail(code)
	}
	m.collected.FullName = name
	return m.advance(StepNameInput, StepNameConfirmed)
}

// SubmitDate accepts the birth date in any supported format and stores the
// ISO-normalized form.
func (m *Machine) SubmitDate(text string) Result {
	if r := m.guard(StepNameConfirmed); r != nil {
		return *r
	}
	if r := m.checkDeadline(); r != nil {
		return *r
	}
	iso, code := ParseBirthDate(text, m.nowFn())
	if code != CodeOK {
		return m.fail(code)
	}
	m.collected.BirthDateISO = iso
	return m.advance(StepDateInput, StepDateConfirmed)
}

// SubmitConcern accepts free text; only empty input is rejected.
func (m *Machine) SubmitConcern(text string) Result {
	if r := m.guard(StepDateConfirmed); r != nil {
		return *r
	}
	if r := m.checkDeadline(); r != nil {
		return *r
	}
	concern, code := ValidateConcern(text)
	if code != CodeOK {
		return m.fail(code)
	}
	m.collected.ConcernText = concern
	return m.advance(StepConcernInput, StepCalculating)
}

// AttachComputedProfile records the finished numerology computation and moves
// on to insight delivery.
func (m *Machine) AttachComputedProfile(profileRef string) Result {
	if r := m.guard(StepCalculating); r != nil {
		return *r
	}
	if profileRef == "" {
		return m.fatal(CodeInvalidTransition, "profile reference must be non-empty")
	}
	m.collected.ProfileRef = profileRef
	return m.advance(StepInsightDelivery)
}

// AttachInsight records the generated insight text.
func (m *Machine) AttachInsight(text string) Result {
	if r := m.guard(StepInsightDelivery); r != nil {
		return *r
	}
	if text == "" {
		return m.fatal(CodeInvalidTransition, "insight text must be non-empty")
	}
	m.collected.InsightText = text
	return m.advance(StepFeedbackCollection)
}

// SubmitFeedback matches the answer against the fixed yes/no sets. An
// unrecognized answer does not advance and goes through the retry path.
func (m *Machine) SubmitFeedback(text string) Result {
	if r := m.guard(StepFeedbackCollection); r != nil {
		return *r
	}
	if r := m.checkDeadline(); r != nil {
		return *r
	}
	positive, recognized := ParseFeedback(text)
	if !recognized {
		return m.fail(CodeUnrecognized)
	}
	m.collected.Feedback = &positive
	return m.advance(StepSaving)
}

// MarkSaved confirms persistence and completes the conversation.
func (m *Machine) MarkSaved() Result {
	if r := m.guard(StepSaving); r != nil {
		return *r
	}
	return m.advance(StepComplete)
}

// Complete finalizes a finished conversation, clearing the deadline. Calling
// it again is a no-op.
func (m *Machine) Complete() Result {
	if m.aborted {
		return m.terminated()
	}
	if m.step != StepComplete {
		return m.fatal(CodeInvalidTransition, "conversation not at complete step")
	}
	m.done = true
	m.deadline = time.Time{}
	return m.ok()
}

// Destroy tears the machine down regardless of step. All timers are cleared
// and every later operation reports AlreadyTerminated.
func (m *Machine) Destroy() {
	m.aborted = true
	m.done = true
	m.deadline = time.Time{}
}

// ExpireIfOverdue is called by the session's ticker. If the active step's
// deadline has passed it injects a synthetic TimedOut failure through the
// retry path; otherwise it reports the machine untouched.
func (m *Machine) ExpireIfOverdue() (Result, bool) {
	if m.done || m.aborted || m.deadline.IsZero() {
		return m.ok(), false
	}
	if !m.nowFn().After(m.deadline) {
		return m.ok(), false
	}
	return m.fail(CodeTimedOut), true
}

// guard rejects calls on a terminated machine or out of the fixed order.
// An out-of-order call is a programming error, not a retryable failure.
func (m *Machine) guard(expected Step) *Result {
	if m.aborted || m.done {
		r := m.terminated()
		return &r
	}
	if m.step != expected {
		r := m.fatal(CodeInvalidTransition, "operation not valid at step "+m.step.String())
		return &r
	}
	return nil
}

func (m *Machine) checkDeadline() *Result {
	if !m.deadline.IsZero() && m.nowFn().After(m.deadline) {
		r := m.fail(CodeTimedOut)
		return &r
	}
	return nil
}

// advance applies one or more successive forward transitions, clears the
// retry counter, and re-arms the deadline on the final step.
func (m *Machine) advance(steps ...Step) Result {
	for _, s := range steps {
		if s != m.step.next() {
			return m.fatal(CodeInvalidTransition, "skip from "+m.step.String()+" to "+s.String())
		}
		m.step = s
		m.notifyStep(s)
	}
	m.retryCount = 0
	if m.step == StepComplete {
		m.done = true
		m.deadline = time.Time{}
	} else {
		m.deadline = m.nowFn().Add(m.stepTimeout)
	}
	return m.ok()
}

// fail runs the retry path: bump the counter, abort at the ceiling, otherwise
// rewind to the current prompt and re-arm its deadline.
func (m *Machine) fail(code Code) Result {
	m.retryCount++
	if m.retryCount >= m.maxRetries {
		m.aborted = true
		m.deadline = time.Time{}
		m.notifyError(CodeTooManyRetries, false)
		return Result{
			Step:     m.step,
			Code:     CodeTooManyRetries,
			Message:  messageFor(CodeTooManyRetries),
			CanRetry: false,
			Attempt:  m.retryCount,
		}
	}
	// The machine only leaves the prompt step on success, so rewinding one
	// step from the transient input position lands back here.
	m.deadline = m.nowFn().Add(m.stepTimeout)
	m.notifyError(code, true)
	return Result{
		Step:     m.step,
		Prompt:   m.step.Prompt(),
		Code:     code,
		Message:  messageFor(code),
		CanRetry: true,
		Attempt:  m.retryCount,
	}
}

func (m *Machine) fatal(code Code, msg string) Result {
	m.notifyError(code, false)
	return Result{Step: m.step, Code: code, Message: msg, CanRetry: false, Attempt: m.retryCount}
}

func (m *Machine) terminated() Result {
	return Result{Step: m.step, Code: CodeAlreadyTerminated, Message: messageFor(CodeAlreadyTerminated), Attempt: m.retryCount}
}

func (m *Machine) ok() Result {
	return Result{OK: true, Step: m.step, Prompt: m.step.Prompt(), Attempt: m.retryCount}
}

func (m *Machine) notifyStep(s Step) {
	if m.sink != nil {
		m.sink.StepChanged(s, s.Prompt())
	}
}

func (m *Machine) notifyError(code Code, canRetry bool) {
	if m.sink != nil {
		m.sink.StepError(code, messageFor(code), canRetry)
	}
}

var codeMessages = map[Code]string{
	CodeEmptyInput:        "Xin lỗi, mình chưa nghe rõ. Bạn nói lại giúp mình nhé?",
	CodeTooLong:           "Tên hơi dài, bạn nói ngắn gọn hơn giúp mình nhé?",
	CodeInvalidDate:       "Ngày sinh chưa đúng định dạng, bạn thử lại nhé?",
	CodeFutureDate:        "Ngày sinh không thể ở tương lai, bạn kiểm tra lại nhé?",
	CodeTooOld:            "Ngày sinh cần từ năm 1900 trở đi, bạn kiểm tra lại nhé?",
	CodeUnrecognized:      "Bạn trả lời có hoặc không giúp mình nhé?",
	CodeTimedOut:          "Mình chưa nhận được câu trả lời, bạn còn đó không?",
	CodeTooManyRetries:    "Rất tiếc, mình chưa hiểu được. Bạn hãy bắt đầu lại nhé.",
	CodeAlreadyTerminated: "Cuộc trò chuyện đã kết thúc. Bạn hãy bắt đầu lại nhé.",
}

func messageFor(code Code) string { return codeMessages[code] }
