package domain

// DecisionType is the tag of a grounded decision.
type DecisionType string

const (
	DecisionAnswer  DecisionType = "ANSWER"
	DecisionClarify DecisionType = "CLARIFY"
)

// Support ties a used FAQ id to a verbatim excerpt of its answer.
type Support struct {
	FAQID string `json:"faqId"`
	Quote string `json:"quote"`
}

// Decision is a validated answer-or-clarify result. For ANSWER every id in
// FAQIDsUsed has at least one Support whose quote occurs in that answer.
// CLARIFY carries no ids and no support.
type Decision struct {
	Type       DecisionType `json:"type"`
	Confidence float64      `json:"confidence"`
	FAQIDsUsed []string     `json:"faqIdsUsed"`
	Text       string       `json:"text"`
	Support    []Support    `json:"support"`
}

// IsAnswer reports whether d may be sent as a grounded answer.
func (d Decision) IsAnswer() bool {
	return d.Type == DecisionAnswer
}
