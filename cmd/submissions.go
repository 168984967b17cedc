package main

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

var (
	submissionsStatus string
	submissionsNPI    string
	submissionsLimit  int
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		subs, err := st.ListSubmissions(ctx, store.SubmissionFilter{
			Status: model.SubmissionStatus(submissionsStatus),
			NPI:    submissionsNPI,
			Limit:  submissionsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list submissions")
		}

		return printJSON(cmd, subs)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <submission-id>",
	Short: "Show a submission's status and stage progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid submission id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sub, err := st.GetSubmission(ctx, id)
		if err != nil {
			return eris.Wrapf(err, "submission %d", id)
		}

		return printJSON(cmd, map[string]any{
			"submission_id": sub.ID,
			"npi":           sub.NPI,
			"status":        sub.Status,
			"error":         sub.ErrorMessage,
			"progress":      sub.Progress(),
			"created_at":    sub.CreatedAt,
			"updated_at":    sub.UpdatedAt,
		})
	},
}

func init() {
	submissionsCmd.Flags().StringVar(&submissionsStatus, "status", "", "filter by status")
	submissionsCmd.Flags().StringVar(&submissionsNPI, "npi", "", "filter by NPI")
	submissionsCmd.Flags().IntVar(&submissionsLimit, "limit", 50, "max rows")
	rootCmd.AddCommand(submissionsCmd)
	rootCmd.AddCommand(statusCmd)
}
