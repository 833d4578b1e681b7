package decider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"frontdesk/internal/provider"
)

// wireDecision is the exact shape requested from the completion service.
type wireDecision struct {
	Type       string        `json:"type" jsonschema:"enum=ANSWER,enum=CLARIFY" jsonschema_description:"ANSWER when the FAQ entries answer the question, otherwise CLARIFY"`
	Confidence float64       `json:"confidence" jsonschema_description:"Confidence 0.0-1.0 that the answer is fully supported"`
	FAQIDsUsed []string      `json:"faqIdsUsed" jsonschema_description:"Ids of the FAQ entries the answer uses; empty for CLARIFY"`
	Text       string        `json:"text" jsonschema_description:"Reply to the customer, or a clarifying question"`
	Support    []wireSupport `json:"support" jsonschema_description:"Verbatim excerpts backing each used id; empty for CLARIFY"`
}

type wireSupport struct {
	FAQID string `json:"faqId" jsonschema_description:"Id of the FAQ entry quoted"`
	Quote string `json:"quote" jsonschema_description:"Exact excerpt copied from that entry's answer"`
}

var decisionSchema = provider.GenerateSchema[wireDecision]()

// decode parses one JSON object into wireDecision, rejecting unknown
// fields, missing type and trailing data. A surrounding markdown code
// fence is tolerated.
func decode(content string) (wireDecision, error) {
	var w wireDecision
	body := stripFence(content)
	if body == "" {
		return w, errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return w, fmt.Errorf("decode decision: %w", err)
	}
	if dec.More() {
		return w, errors.New("decode decision: trailing data")
	}
	if w.Type == "" {
		return w, errors.New("decode decision: missing type")
	}
	return w, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
