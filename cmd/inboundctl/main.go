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


// inboundctl is the operator CLI for the ingestion service: schema
// migrations, offline classification, filter validation, mailbox
// provisioning and message replay.
package main

import "github.com/elektrine/ingestion/internal/cli"

func main() {
	cli.Execute()
}
