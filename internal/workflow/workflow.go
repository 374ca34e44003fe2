// Package workflow sequences a single service execution attempt through the
// info, payment, executing and result steps. One Instance covers exactly one
// attempt; retrying requires a fresh Instance, which is why every retry
// becomes a new, independent ledger entry.
package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"khidma/internal/domain"
	"khidma/internal/tools"
)

type Step string

const (
	StepInfo      Step = "info"
	StepPayment   Step = "payment"
	StepExecuting Step = "executing"
	StepResult    Step = "result"
)

// transitions is the authoritative table; anything not listed here is an
// invalid transition.
var transitions = map[Step][]Step{
	StepInfo:      {StepPayment, StepExecuting},
	StepPayment:   {StepInfo, StepExecuting},
	StepExecuting: {StepResult},
	StepResult:    {},
}

var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrPaymentRequired   = errors.New("payment method not selected")
	ErrBusy              = errors.New("execution in progress")
)

// MissingFieldsError reports exactly which required field labels are empty.
type MissingFieldsError struct {
	Labels []string
}

func (e MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Labels, ", ")
}

// PaymentMethods is the fixed set the payment step offers.
var PaymentMethods = []string{"mada", "visa", "mastercard", "apple_pay", "sadad"}

// FileAttachment is a collected file with its displayable preview: a data URI
// for images, the bare filename for other documents.
type FileAttachment struct {
	Field     string
	Name      string
	MediaType string
	Data      []byte
	Preview   string
}

// Executor runs the collected invocation on the auto channel and records it.
type Executor interface {
	ExecuteService(ctx context.Context, tool string, args map[string]any, paymentMethod string) (domain.ToolResult, string, error)
}

// Instance is the transient per-invocation state. It is not safe for
// concurrent use; each open service dialog owns one.
type Instance struct {
	def       tools.Definition
	step      Step
	values    map[string]string
	files     map[string]FileAttachment
	payment   string
	result    *domain.ToolResult
	requestID string
	executing bool
}

func New(def tools.Definition) *Instance {
	return &Instance{
		def:    def,
		step:   StepInfo,
		values: map[string]string{},
		files:  map[string]FileAttachment{},
	}
}

func (i *Instance) Step() Step                   { return i.step }
func (i *Instance) Definition() tools.Definition { return i.def }
func (i *Instance) PaymentMethod() string        { return i.payment }
func (i *Instance) RequestID() string            { return i.requestID }

// Result returns the execution outcome once the instance reached the result step.
func (i *Instance) Result() (domain.ToolResult, bool) {
	if i.result == nil {
		return domain.ToolResult{}, false
	}
	return *i.result, true
}

func (i *Instance) transition(to Step) error {
	for _, allowed := range transitions[i.step] {
		if allowed == to {
			i.step = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.step, to)
}

// SetValue records a field value while gathering info.
func (i *Instance) SetValue(field, value string) error {
	if i.step != StepInfo {
		return fmt.Errorf("%w: cannot edit fields in step %s", ErrInvalidTransition, i.step)
	}
	i.values[field] = value
	return nil
}

// AttachFile stores a single file for an image or document field, replacing
// any previous one.
func (i *Instance) AttachFile(field, name, mediaType string, data []byte) error {
	if i.step != StepInfo {
		return fmt.Errorf("%w: cannot attach files in step %s", ErrInvalidTransition, i.step)
	}
	att := FileAttachment{Field: field, Name: name, MediaType: mediaType, Data: data}
	if strings.HasPrefix(mediaType, "image/") {
		att.Preview = fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
	} else {
		att.Preview = name
	}
	i.files[field] = att
	return nil
}

func (i *Instance) RemoveFile(field string) {
	delete(i.files, field)
}

func (i *Instance) File(field string) (FileAttachment, bool) {
	att, ok := i.files[field]
	return att, ok
}

// SubmitInfo validates required fields and advances to payment when the
// service is fee-gated, otherwise straight to executing. On validation
// failure the instance stays in info and the error names the missing labels.
func (i *Instance) SubmitInfo() error {
	if i.step != StepInfo {
		return fmt.Errorf("%w: submit from step %s", ErrInvalidTransition, i.step)
	}
	var missing []string
	for _, f := range i.def.Fields {
		if !f.Required {
			continue
		}
		switch f.Type {
		case tools.FieldImage, tools.FieldDocument:
			if _, ok := i.files[f.Name]; !ok {
				missing = append(missing, f.Label)
			}
		default:
			if strings.TrimSpace(i.values[f.Name]) == "" {
				missing = append(missing, f.Label)
			}
		}
	}
	if len(missing) > 0 {
		return MissingFieldsError{Labels: missing}
	}
	if FeeGated(i.def.FeeLabel) {
		return i.transition(StepPayment)
	}
	return i.transition(StepExecuting)
}

// SelectPayment records the chosen method during the payment step.
func (i *Instance) SelectPayment(method string) error {
	if i.step != StepPayment {
		return fmt.Errorf("%w: select payment in step %s", ErrInvalidTransition, i.step)
	}
	for _, m := range PaymentMethods {
		if m == method {
			i.payment = method
			return nil
		}
	}
	return fmt.Errorf("unknown payment method %q", method)
}

// ConfirmPayment advances to executing; it requires a selected method.
func (i *Instance) ConfirmPayment() error {
	if i.step != StepPayment {
		return fmt.Errorf("%w: confirm payment in step %s", ErrInvalidTransition, i.step)
	}
	if i.payment == "" {
		return ErrPaymentRequired
	}
	return i.transition(StepExecuting)
}

// Back returns from payment to info; this is the only backward edge.
func (i *Instance) Back() error {
	if i.step != StepPayment {
		return fmt.Errorf("%w: back from step %s", ErrInvalidTransition, i.step)
	}
	return i.transition(StepInfo)
}

// Execute invokes the dispatcher with the collected values plus the chosen
// payment method merged in. It is not re-entrant: input is rejected while an
// execution is in flight. Completion transitions to result unconditionally;
// a dispatcher-level failure still produces a displayable result.
func (i *Instance) Execute(ctx context.Context, exec Executor) (domain.ToolResult, error) {
	if i.step != StepExecuting {
		return domain.ToolResult{}, fmt.Errorf("%w: execute from step %s", ErrInvalidTransition, i.step)
	}
	if i.executing {
		return domain.ToolResult{}, ErrBusy
	}
	i.executing = true
	defer func() { i.executing = false }()

	args := map[string]any{}
	for k, v := range i.values {
		args[k] = v
	}
	for field, att := range i.files {
		args[field] = att.Name
	}
	result, requestID, err := exec.ExecuteService(ctx, i.def.Name, args, i.payment)
	if err != nil {
		result = domain.ToolResult{
			Status:  domain.ResultError,
			Message: fmt.Sprintf("The service could not be completed: %v", err),
		}
	}
	i.result = &result
	i.requestID = requestID
	if terr := i.transition(StepResult); terr != nil {
		return result, terr
	}
	return result, nil
}

// FeeGated reports whether an advertised fee string denotes a non-zero
// amount, which makes the payment step reachable.
func FeeGated(label string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(label))
	switch trimmed {
	case "", tools.FreeFee, "0", "0 sar":
		return false
	}
	return true
}
