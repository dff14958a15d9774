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

package compose

import (
	"strings"

	"github.com/awesbecher/poweredbyapp-sub000/internal/models"
)

// Tone instructions keyed by intent.
const (
	EmpatheticTone   = "Be empathetic. Acknowledge the sender's frustration and apologise where appropriate before explaining how the issue will be resolved."
	FriendlyTone     = "Be friendly and helpful. Answer directly and keep the reply concise."
	AppreciativeTone = "Be appreciative. Thank the sender for taking the time to share their feedback."
	EfficientTone    = "Be efficient. Address the urgent request first and state clear next steps and timing."
	PersuasiveTone   = "Where it fits naturally, highlight the value of the offering and invite the sender to take the next step, without being pushy."
)

// salesKeywords mark an agent purpose as sales-oriented.
var salesKeywords = []string{"sales", "sell", "selling", "conversion", "leads", "upsell", "purchase"}

var intentTone = map[models.Intent]string{
	models.IntentComplaint:      EmpatheticTone,
	models.IntentSimpleInquiry:  FriendlyTone,
	models.IntentGeneralRequest: FriendlyTone,
	models.IntentFeedback:       AppreciativeTone,
	models.IntentUrgentRequest:  EfficientTone,
}

// ToneInstructions returns the tone guidance for intent, plus the
// persuasive overlay when purpose mentions sales.
func ToneInstructions(intent models.Intent, purpose string) []string {
	var out []string
	if tone, ok := intentTone[intent]; ok {
		out = append(out, tone)
	}
	if IsSalesPurpose(purpose) {
		out = append(out, PersuasiveTone)
	}
	return out
}

// IsSalesPurpose reports whether purpose contains a sales keyword.
func IsSalesPurpose(purpose string) bool {
	p := strings.ToLower(purpose)
	for _, kw := range salesKeywords {
		if strings.Contains(p, kw) {
			return true
		}
	}
	return false
}

// instructionsFor applies the agent's per-intent template override, which
// replaces the default intent tone but keeps the sales overlay.
func instructionsFor(agent *models.Agent, intent models.Intent) []string {
	override, ok := agent.PromptTemplates[intent]
	if !ok || strings.TrimSpace(override) == "" {
		return ToneInstructions(intent, agent.Purpose)
	}
	out := []string{strings.TrimSpace(override)}
	if IsSalesPurpose(agent.Purpose) {
		out = append(out, PersuasiveTone)
	}
	return out
}
