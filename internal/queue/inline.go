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

package queue

import "context"

// Inline runs triggers synchronously in the caller's goroutine. It stands in
// for the Publisher when no Redis queue is available, as in one-shot CLI runs.
type Inline struct {
	Generator  Generator
	Dispatcher Dispatcher
}

// TriggerGenerate runs reply generation immediately.
func (i Inline) TriggerGenerate(ctx context.Context, agentID, messageID string) error {
	return i.Generator.Generate(ctx, agentID, messageID)
}

// TriggerDispatch sends the reply immediately.
func (i Inline) TriggerDispatch(ctx context.Context, agentID, messageID, replyText string) error {
	return i.Dispatcher.Dispatch(ctx, agentID, messageID, replyText)
}
