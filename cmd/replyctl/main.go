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

// Operator CLI for the mail agent.
//
// It shares the service's configuration and component graph but runs
// generation and dispatch in-process unless told to use the job queue.
//
// Usage:
//
//	go run ./cmd/replyctl/ pending
//	go run ./cmd/replyctl/ approve <message-id>
//	go run ./cmd/replyctl/ poll-once --queue
package main

func main() {
	Execute()
}
