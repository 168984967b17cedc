package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/extract"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/ocr"
	anthropicpkg "github.com/sells-group/provider-cli/pkg/anthropic"
)

var extractSubmit bool

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Extract a provider profile from a PDF document",
	Long:  "Runs OCR on the document, extracts a structured provider profile, and optionally submits it to the pipeline.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (PROVIDER_ANTHROPIC_KEY)")
		}

		ocrExtractor, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return err
		}

		text, err := ocrExtractor.ExtractText(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "extract text from %s", args[0])
		}
		zap.L().Info("document text extracted",
			zap.String("file", args[0]),
			zap.Int("chars", len(text)))

		extractor := extract.NewExtractor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
		profile, err := extractor.ExtractProfile(ctx, text)
		if err != nil {
			return eris.Wrap(err, "extract profile")
		}

		if !extractSubmit {
			return printJSON(cmd, profile)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		payload := profilePayload(profile)
		sub, err := env.Store.CreateSubmission(ctx, model.SourceDocument, profile.NPI, payload)
		if err != nil {
			return eris.Wrap(err, "create submission")
		}
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
			"profile":       profile,
		})
	},
}

// profilePayload flattens an extracted profile into the submission payload
// shape the comparator expects.
func profilePayload(p *model.ProviderProfile) map[string]any {
	payload := map[string]any{}

	set := func(key, value string) {
		if value != "" {
			payload[key] = value
		}
	}

	set("npi", p.NPI)
	set("first_name", p.FirstName)
	set("last_name", p.LastName)
	set("credential", p.Credential)
	set("organization", p.OrganizationName)
	set("email", p.Email)
	set("website", p.Website)
	set("phone", p.PrimaryPhone())
	set("fax", p.Fax)

	if len(p.Specialties) > 0 {
		payload["specialty"] = p.Specialties[0]
	}
	if len(p.TaxonomyCodes) > 0 {
		payload["taxonomy_code"] = p.TaxonomyCodes[0]
	}
	if loc := p.PrimaryLocation(); loc != nil {
		set("address", loc.StreetAddress1)
		set("city", loc.City)
		set("state", loc.State)
		set("postal_code", loc.ZipCode)
	}
	for k, v := range p.AdditionalFields {
		set(k, v)
	}

	return payload
}

func init() {
	extractCmd.Flags().BoolVar(&extractSubmit, "submit", false, "submit the extracted profile to the pipeline")
	rootCmd.AddCommand(extractCmd)
}
