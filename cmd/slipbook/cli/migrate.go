package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/platform/db"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				cmd.Print(db.Schema())
				return nil
			}
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Pool == nil {
				return errors.New("migrate: no database configured")
			}
			if err := db.Migrate(cmd.Context(), rt.Pool); err != nil {
				return err
			}
			cmd.Println("schema applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}
