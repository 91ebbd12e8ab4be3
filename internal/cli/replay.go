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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/dedup"
	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/pipeline"
	"github.com/elektrine/ingestion/internal/replay"
	"github.com/elektrine/ingestion/internal/routing"
	"github.com/elektrine/ingestion/internal/security"
	"github.com/elektrine/ingestion/internal/store/postgres"
	"github.com/elektrine/ingestion/internal/store/sqlite"
	"github.com/elektrine/ingestion/internal/suppression"
)

// Store is every storage capability the offline tools need. Both the
// PostgreSQL and SQLite stores implement it.
type Store interface {
	routing.MailboxStore
	routing.SentStore
	dedup.MessageStore
	pipeline.MessageInserter
	filters.Store
	suppression.Store
	CreateMailbox(ctx context.Context, mb *models.Mailbox) (*models.Mailbox, error)
	UpsertAlias(ctx context.Context, a *models.Alias) error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// target describes where offline commands read and write.
type target struct {
	store        Store
	domains      []string
	originSecret string
	originMaxAge time.Duration
	loopback     time.Duration
	nearDup      time.Duration
	close        func()
}

// openTarget opens the SQLite file given by --sqlite, or the configured
// PostgreSQL database.
func openTarget(cmd *cobra.Command) (*target, error) {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("sqlite")
	domains, _ := cmd.Flags().GetStringSlice("domain")

	if path != "" {
		if len(domains) == 0 {
			return nil, fmt.Errorf("--domain is required with --sqlite")
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return &target{
			store:   s,
			domains: domains,
			close:   func() { s.Close() },
		}, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := postgres.MigrateUp(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	s, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		domains = cfg.Domains
	}
	return &target{
		store:        s,
		domains:      domains,
		originSecret: cfg.OriginSecret,
		originMaxAge: cfg.OriginMaxAge,
		loopback:     cfg.LoopbackWindow,
		nearDup:      cfg.NearDuplicateTTL,
		close:        s.Close,
	}, nil
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("sqlite", "", "use a local SQLite database file instead of PostgreSQL")
	cmd.Flags().StringSlice("domain", nil, "hosted domain (repeatable; defaults to the configured domains)")
}

var replayCmd = &cobra.Command{
	Use:   "replay <dir>",
	Short: "Ingest stored .json envelopes and .eml messages from a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd)
		if err != nil {
			return err
		}
		defer t.close()

		domains := address.NewDomains(t.domains)
		p := pipeline.New(pipeline.Deps{
			Gate:       security.NewGate(domains, t.originSecret, t.originMaxAge),
			Resolver:   routing.NewResolver(t.store, t.store, domains, t.loopback),
			Guard:      dedup.NewGuard(t.store, t.nearDup),
			Filters:    filters.NewEngine(t.store),
			Messages:   t.store,
			Suppressor: suppression.NewAnalyzer(t.store, domains, nil),
		})

		limit, _ := cmd.Flags().GetInt("limit")
		rcptTo, _ := cmd.Flags().GetString("rcpt-to")
		delay, _ := cmd.Flags().GetDuration("delay")

		res, err := replay.NewRunner(p, delay).Run(cmd.Context(), replay.Request{
			Dir:    args[0],
			Limit:  limit,
			RcptTo: rcptTo,
		})
		if err != nil {
			return err
		}
		return writeIndented(cmd, res)
	},
}

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Provision mailboxes and aliases",
}

var mailboxAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Create a mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd)
		if err != nil {
			return err
		}
		defer t.close()

		addr := address.Normalize(args[0])
		if !address.NewDomains(t.domains).IsLocal(addr) {
			return fmt.Errorf("%s is not on a hosted domain", args[0])
		}
		userID, _ := cmd.Flags().GetInt64("user-id")
		autoSuppress, _ := cmd.Flags().GetBool("auto-suppress")

		mb, err := t.store.CreateMailbox(cmd.Context(), &models.Mailbox{
			UserID:       userID,
			Address:      addr,
			AutoSuppress: autoSuppress,
		})
		if err != nil {
			return err
		}
		return writeIndented(cmd, mb)
	},
}

var aliasAddCmd = &cobra.Command{
	Use:   "alias <alias> <target>",
	Short: "Create or update an alias",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd)
		if err != nil {
			return err
		}
		defer t.close()

		userID, _ := cmd.Flags().GetInt64("user-id")
		disabled, _ := cmd.Flags().GetBool("disabled")
		a := &models.Alias{
			AliasEmail:  address.Normalize(args[0]),
			TargetEmail: address.Normalize(args[1]),
			UserID:      userID,
			Enabled:     !disabled,
		}
		if err := t.store.UpsertAlias(cmd.Context(), a); err != nil {
			return err
		}
		return writeIndented(cmd, a)
	},
}

func init() {
	addTargetFlags(replayCmd)
	replayCmd.Flags().Int("limit", 0, "replay at most this many files")
	replayCmd.Flags().String("rcpt-to", "", "override the envelope recipient of every message")
	replayCmd.Flags().Duration("delay", 0, "pause between files")

	for _, c := range []*cobra.Command{mailboxAddCmd, aliasAddCmd} {
		addTargetFlags(c)
		c.Flags().Int64("user-id", 0, "owning user id")
		_ = c.MarkFlagRequired("user-id")
	}
	mailboxAddCmd.Flags().Bool("auto-suppress", false, "suppress hard-bounced and complaining recipients")
	aliasAddCmd.Flags().Bool("disabled", false, "create the alias disabled")
	mailboxCmd.AddCommand(mailboxAddCmd, aliasAddCmd)
}
