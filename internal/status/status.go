package status

import (
	"sort"

	"go.uber.org/zap"
)

// Code is the gateway's numeric status id. It is the only field safe to branch on;
// status names are display labels.
type Code int

const (
	CodeNew                  Code = 10
	CodeStarted              Code = 20
	CodeCharged              Code = 21
	CodeJuspayDeclined       Code = 22
	CodePendingVBV           Code = 23
	CodeAuthenticationFailed Code = 26
	CodeAuthorizationFailed  Code = 27
	CodeAuthorizing          Code = 28
	CodeVoided               Code = 31
	CodeVoidInitiated        Code = 32
	CodeCaptureInitiated     Code = 33
	CodeCaptureFailed        Code = 34
	CodeAutoRefunded         Code = 36
	CodeVoidFailed           Code = 38
)

// Category groups codes into disjoint sets.
type Category string

const (
	CategoryTerminal         Category = "terminal"
	CategoryPollable         Category = "pollable"
	CategoryIntegrationError Category = "integration_error"
)

// Outcome is what a payer is allowed to see.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

const (
	ActionNone     = "No action required."
	ActionPoll     = "Keep checking the order status."
	ActionRetry    = "Ask the customer to retry the payment."
	ActionEscalate = "Escalate to an operator; the gateway could not route the transaction."
	ActionRefund   = "Inform the customer that the amount will be returned."
	ActionReview   = "Review the order with the gateway before retrying."
)

type entry struct {
	name     string
	category Category
	outcome  Outcome
	message  string
	action   string
}

var table = map[Code]entry{
	CodeNew:                  {"NEW", CategoryPollable, OutcomePending, "Order created, awaiting payment.", ActionPoll},
	CodeStarted:              {"STARTED", CategoryIntegrationError, OutcomeFailed, "Transaction started but could not be routed by the gateway.", ActionEscalate},
	CodeCharged:              {"CHARGED", CategoryTerminal, OutcomeSuccess, "Successful transaction.", ActionNone},
	CodeJuspayDeclined:       {"JUSPAY_DECLINED", CategoryTerminal, OutcomeFailed, "Transaction declined by the gateway.", ActionRetry},
	CodePendingVBV:           {"PENDING_VBV", CategoryPollable, OutcomePending, "Authentication is in progress.", ActionPoll},
	CodeAuthenticationFailed: {"AUTHENTICATION_FAILED", CategoryTerminal, OutcomeFailed, "Authentication failed.", ActionRetry},
	CodeAuthorizationFailed:  {"AUTHORIZATION_FAILED", CategoryTerminal, OutcomeFailed, "Transaction declined by the issuing bank.", ActionRetry},
	CodeAuthorizing:          {"AUTHORIZING", CategoryPollable, OutcomePending, "Bank is authorizing the transaction.", ActionPoll},
	CodeVoided:               {"VOIDED", CategoryTerminal, OutcomeFailed, "Transaction voided.", ActionNone},
	CodeVoidInitiated:        {"VOID_INITIATED", CategoryPollable, OutcomePending, "Void initiated.", ActionPoll},
	CodeCaptureInitiated:     {"CAPTURE_INITIATED", CategoryPollable, OutcomePending, "Capture initiated.", ActionPoll},
	CodeCaptureFailed:        {"CAPTURE_FAILED", CategoryTerminal, OutcomeFailed, "Capture failed.", ActionReview},
	CodeAutoRefunded:         {"AUTO_REFUNDED", CategoryTerminal, OutcomeFailed, "Transaction auto-refunded.", ActionRefund},
	CodeVoidFailed:           {"VOID_FAILED", CategoryTerminal, OutcomeFailed, "Void failed.", ActionReview},
}

// Classification is the interpretation of one status id.
type Classification struct {
	StatusID          Code     `json:"status_id"`
	Name              string   `json:"name"`
	Category          Category `json:"category"`
	IsTerminal        bool     `json:"is_terminal"`
	ShouldPoll        bool     `json:"should_poll"`
	Outcome           Outcome  `json:"outcome"`
	Message           string   `json:"message"`
	RecommendedAction string   `json:"recommended_action"`
	Known             bool     `json:"known"`
}

// IntegrationError reports whether the gateway itself failed to route the transaction.
func (c Classification) IntegrationError() bool {
	return c.Category == CategoryIntegrationError
}

// Classifier maps status ids to classifications. The zero value is usable and
// does not log.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify never fails: unrecognized ids are treated as pollable.
func (c *Classifier) Classify(id int) Classification {
	cls, ok := Lookup(Code(id))
	if !ok && c != nil && c.logger != nil {
		c.logger.Warn("Unknown gateway status id, treating as pollable", zap.Int("status_id", id))
	}
	return cls
}

// Lookup classifies id without logging and reports whether it is in the table.
func Lookup(id Code) (Classification, bool) {
	e, ok := table[id]
	if !ok {
		return Classification{
			StatusID:          id,
			Name:              "UNKNOWN",
			Category:          CategoryPollable,
			ShouldPoll:        true,
			Outcome:           OutcomePending,
			Message:           "Unknown status, payment is still being processed.",
			RecommendedAction: ActionPoll,
		}, false
	}

	terminal := e.category != CategoryPollable
	return Classification{
		StatusID:          id,
		Name:              e.name,
		Category:          e.category,
		IsTerminal:        terminal,
		ShouldPoll:        !terminal,
		Outcome:           e.outcome,
		Message:           e.message,
		RecommendedAction: e.action,
		Known:             true,
	}, true
}

// IsTerminal reports whether id is a known terminal (or integration error) code.
func IsTerminal(id int) bool {
	cls, _ := Lookup(Code(id))
	return cls.IsTerminal
}

// Codes returns every known status id in ascending order.
func Codes() []Code {
	codes := make([]Code, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
