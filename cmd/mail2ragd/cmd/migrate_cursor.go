package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mail2rag/internal/state"
)

// newMigrateCursorCmd creates the migrate-cursor command: a one-shot
// copy of the persisted UID cursor between the two state.Store
// backends, for operators switching a running deployment from the
// default JSON file to sqlite (or back) without losing MailLoop's
// position in the mailbox.
func newMigrateCursorCmd() *cobra.Command {
	var fromJSON, toSQLite, fromSQLite, toJSON string

	cmd := &cobra.Command{
		Use:   "migrate-cursor",
		Short: "Copy the mail cursor between JSON and sqlite backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			switch {
			case fromJSON != "" && toSQLite != "":
				return migrateCursor(ctx, fromJSON, toSQLite, state.NewJSONFileStore, state.NewSQLiteStore)
			case fromSQLite != "" && toJSON != "":
				return migrateCursor(ctx, fromSQLite, toJSON, state.NewSQLiteStore, state.NewJSONFileStore)
			default:
				return fmt.Errorf("migrate-cursor: specify exactly one of --from-json/--to-sqlite or --from-sqlite/--to-json")
			}
		},
	}

	cmd.Flags().StringVar(&fromJSON, "from-json", "", "path to the existing JSON cursor file")
	cmd.Flags().StringVar(&toSQLite, "to-sqlite", "", "path for the new sqlite cursor database")
	cmd.Flags().StringVar(&fromSQLite, "from-sqlite", "", "path to the existing sqlite cursor database")
	cmd.Flags().StringVar(&toJSON, "to-json", "", "path for the new JSON cursor file")

	return cmd
}

func migrateCursor[S1, S2 state.Store](
	ctx context.Context,
	fromPath, toPath string,
	openFrom func(string) (S1, error),
	openTo func(string) (S2, error),
) error {
	from, err := openFrom(fromPath)
	if err != nil {
		return fmt.Errorf("migrate-cursor: open source %s: %w", fromPath, err)
	}
	defer from.Close()

	to, err := openTo(toPath)
	if err != nil {
		return fmt.Errorf("migrate-cursor: open destination %s: %w", toPath, err)
	}
	defer to.Close()

	cursor, err := from.Load(ctx)
	if err != nil {
		return fmt.Errorf("migrate-cursor: load source cursor: %w", err)
	}

	if err := to.Save(ctx, cursor); err != nil {
		return fmt.Errorf("migrate-cursor: save destination cursor: %w", err)
	}

	fmt.Printf("migrated cursor: last_uid=%d archive_ids=%d -> %s\n", cursor.LastUID, len(cursor.ArchiveIDs), toPath)
	return nil
}
