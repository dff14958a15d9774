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

package decision

import "github.com/awesbecher/poweredbyapp-sub000/internal/models"

// Thresholds of the auto-send rule.
const (
	MaxSimpleComplexity = 4   // complexity must be below this unless the intent is simple_inquiry
	MinConfidence       = 85  // confidence must be strictly above this
	MinAverageRating    = 4.0 // required average once the agent has a track record
	MinRatingsForTrack  = 5   // below this many ratings the agent is in cold start
)

// Input is everything the auto-send rule looks at.
type Input struct {
	AutoReplyEnabled bool
	Analysis         models.AutoReplyAnalysis
	AverageRating    float64
	RatingCount      int
}

// ShouldAutoReply reports whether a reply may be sent without human review.
func ShouldAutoReply(in Input) bool {
	a := in.Analysis

	simpleEnough := a.Intent == models.IntentSimpleInquiry || a.Complexity < MaxSimpleComplexity
	trackRecordOK := in.RatingCount < MinRatingsForTrack ||
		(in.AverageRating >= MinAverageRating && in.RatingCount >= MinRatingsForTrack)

	return in.AutoReplyEnabled &&
		a.Recommend &&
		simpleEnough &&
		a.Confidence > MinConfidence &&
		trackRecordOK
}

// FallbackAnalysis is substituted whenever classification fails. It always
// routes the message to human review.
func FallbackAnalysis() models.AutoReplyAnalysis {
	return models.AutoReplyAnalysis{
		Intent:     models.IntentOther,
		Complexity: 7,
		Confidence: 50,
		Recommend:  false,
		Rationale:  "analysis failed, defaulting to human review",
	}
}
