// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import "fmt"

// Intent is the classified purpose of an inbound email.
type Intent string

const (
	IntentSimpleInquiry  Intent = "simple_inquiry"
	IntentComplexInquiry Intent = "complex_inquiry"
	IntentComplaint      Intent = "complaint"
	IntentUrgentRequest  Intent = "urgent_request"
	IntentGeneralRequest Intent = "general_request"
	IntentFeedback       Intent = "feedback"
	IntentOther          Intent = "other"
)

// Intents is the fixed enumeration in declaration order.
var Intents = []Intent{
	IntentSimpleInquiry,
	IntentComplexInquiry,
	IntentComplaint,
	IntentUrgentRequest,
	IntentGeneralRequest,
	IntentFeedback,
	IntentOther,
}

// ParseIntent converts a raw string into a known Intent.
func ParseIntent(s string) (Intent, error) {
	for _, i := range Intents {
		if string(i) == s {
			return i, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// AutoReplyAnalysis is the structured classification of an inbound message.
type AutoReplyAnalysis struct {
	Intent     Intent `json:"intent"`
	Complexity int    `json:"complexity"`
	Confidence int    `json:"confidence"`
	Recommend  bool   `json:"should_auto_reply"`
	Rationale  string `json:"reasoning"`
}

// Validate checks the enumerated intent and the score ranges.
func (a AutoReplyAnalysis) Validate() error {
	if _, err := ParseIntent(string(a.Intent)); err != nil {
		return err
	}
	if a.Complexity < 1 || a.Complexity > 10 {
		return fmt.Errorf("complexity %d out of range 1-10", a.Complexity)
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range 0-100", a.Confidence)
	}
	return nil
}
