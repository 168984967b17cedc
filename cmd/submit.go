package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/model"
)

var (
	submitNPI    string
	submitFile   string
	submitFields []string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a single provider record and run it through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		payload, npi, err := buildSubmitPayload(submitFile, submitNPI, submitFields)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Store.CreateSubmission(ctx, model.SourceForm, npi, payload)
		if err != nil {
			return eris.Wrap(err, "create submission")
		}
		zap.L().Info("submission created", zap.Int64("submission_id", sub.ID))

		if err := env.Pipeline.Process(ctx, sub.ID); err != nil {
			return eris.Wrap(err, "process submission")
		}

		final, err := env.Store.GetSubmission(ctx, sub.ID)
		if err != nil {
			return eris.Wrap(err, "reload submission")
		}

		return printJSON(cmd, map[string]any{
			"submission_id": final.ID,
			"status":        final.Status,
			"error":         final.ErrorMessage,
			"progress":      final.Progress(),
		})
	},
}

// buildSubmitPayload assembles the submission payload from a JSON file, an
// --npi flag, and repeated --field key=value flags. Flags override file
// values on conflict.
func buildSubmitPayload(file, npi string, fields []string) (map[string]any, string, error) {
	payload := map[string]any{}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, "", eris.Wrapf(err, "read %s", file)
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, "", eris.Wrapf(err, "parse %s", file)
		}
	}

	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, "", eris.Errorf("invalid --field %q, expected key=value", f)
		}
		payload[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if npi != "" {
		payload["npi"] = npi
	}
	resolved, _ := payload["npi"].(string)

	if len(payload) == 0 {
		return nil, "", eris.New("nothing to submit: provide --npi, --field, or --file")
	}

	return payload, resolved, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	submitCmd.Flags().StringVar(&submitNPI, "npi", "", "provider NPI")
	submitCmd.Flags().StringVar(&submitFile, "file", "", "JSON file with the submitted record")
	submitCmd.Flags().StringArrayVar(&submitFields, "field", nil, "additional field as key=value (repeatable)")
	rootCmd.AddCommand(submitCmd)
}
