package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/slip"
	"github.com/transferdesk/slipcheck/internal/validator"
)

var (
	validateReference string
	validateAmount    string
	validateSource    string
	validateActor     string
	validateSave      bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a slip image and print the verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		expected := slip.ParseAmount(validateAmount)
		if validateAmount != "" && expected == nil {
			return eris.Errorf("could not parse amount %q", validateAmount)
		}

		sub := validator.Submission{
			File:           f,
			Filename:       args[0],
			Reference:      validateReference,
			ExpectedAmount: expected,
		}
		if validateSave {
			rec, err := env.Store.CreateSlip(ctx, &model.SlipRecord{
				Filename:       args[0],
				FileURL:        args[0],
				Source:         model.Source(validateSource),
				UploadedBy:     validateActor,
				Status:         model.StatusProcessing,
				ExpectedAmount: expected,
			})
			if err != nil {
				return eris.Wrap(err, "create slip record")
			}
			sub.RecordID = rec.ID
			fmt.Printf("Slip ID:    %s\n", rec.ID)
		}

		verdict, err := env.Validator.Validate(ctx, sub)
		if err != nil {
			return eris.Wrap(err, "validate slip")
		}

		printVerdict(verdict)
		return nil
	},
}

func printVerdict(v *model.Verdict) {
	p := message.NewPrinter(language.English)

	fmt.Printf("Slip:       %v (%s)\n", v.Slip, v.Reason)
	if v.Confidence != nil {
		fmt.Printf("Confidence: %.1f\n", *v.Confidence)
	}
	fmt.Printf("Reference:  %s (match: %s)\n", orDash(v.DetectedReference), triState(v.Match))
	if v.DetectedAmount != nil {
		p.Printf("Amount:     %.2f (match: %s)\n", *v.DetectedAmount, triState(v.AmountMatch))
	} else {
		fmt.Printf("Amount:     - (match: %s)\n", triState(v.AmountMatch))
	}
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// triState renders a nullable check: undetermined is not a mismatch.
func triState(b *bool) string {
	switch {
	case b == nil:
		return "undetermined"
	case *b:
		return "yes"
	default:
		return "no"
	}
}

func init() {
	validateCmd.Flags().StringVar(&validateReference, "reference", "", "transfer reference entered by the customer")
	validateCmd.Flags().StringVar(&validateAmount, "amount", "", "expected transfer amount")
	validateCmd.Flags().StringVar(&validateSource, "source", "pos", "submission channel (pos|website)")
	validateCmd.Flags().StringVar(&validateActor, "uploaded-by", "", "actor identifier")
	validateCmd.Flags().BoolVar(&validateSave, "save", false, "persist a slip record for staff review")
	rootCmd.AddCommand(validateCmd)
}
