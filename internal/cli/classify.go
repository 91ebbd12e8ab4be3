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


package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/elektrine/ingestion/internal/classify"
	"github.com/elektrine/ingestion/internal/dedup"
	"github.com/elektrine/ingestion/internal/normalize"
	"github.com/elektrine/ingestion/internal/replay"
	"github.com/elektrine/ingestion/internal/suppression"
)

// classifyReport is what `inboundctl classify` prints.
type classifyReport struct {
	From           string                   `json:"from"`
	Subject        string                   `json:"subject"`
	MessageID      string                   `json:"message_id,omitempty"`
	IdempotencyKey string                   `json:"idempotency_key"`
	Classification classify.Result          `json:"classification"`
	Signal         suppression.SignalResult `json:"signal"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Normalize and classify a stored message without ingesting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := replay.ReadFile(args[0])
		if err != nil {
			return err
		}
		msg := normalize.Normalize(env)

		report := classifyReport{
			From:           msg.From,
			Subject:        msg.Subject,
			MessageID:      msg.MessageID,
			IdempotencyKey: dedup.Key(env),
			Classification: classify.Categorize(msg),
			Signal:         suppression.ClassifySignal(msg.Headers, msg.From, msg.Subject),
		}
		return writeIndented(cmd, report)
	},
}

func writeIndented(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
