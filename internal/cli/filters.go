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
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elektrine/ingestion/internal/filters"
)

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Work with user filter definitions",
}

var filtersValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a filter, or a JSON array of filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		list, err := decodeFilters(data)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		invalid := 0
		for i, f := range list {
			if f.Conditions.MatchType == "" {
				f.Conditions.MatchType = filters.MatchAll
			}
			if err := filters.Validate(f); err != nil {
				invalid++
				fmt.Fprintf(out, "filter %d (%s): %v\n", i, f.Name, err)
				continue
			}
			fmt.Fprintf(out, "filter %d (%s): ok\n", i, f.Name)
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d filters invalid", invalid, len(list))
		}
		return nil
	},
}

func init() {
	filtersCmd.AddCommand(filtersValidateCmd)
}

func decodeFilters(data []byte) ([]*filters.Filter, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*filters.Filter
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode filters: %w", err)
		}
		return list, nil
	}
	var f filters.Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return []*filters.Filter{&f}, nil
}
