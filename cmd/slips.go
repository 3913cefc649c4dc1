package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/transferdesk/slipcheck/internal/export"
	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/store"
	"github.com/transferdesk/slipcheck/internal/validator"
)

var slipsCmd = &cobra.Command{
	Use:   "slips",
	Short: "Inspect and review stored slips",
}

var (
	listStatus  string
	listSource  string
	listPage    int
	listPerPage int
)

var slipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List slips in the review queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		items, total, err := st.ListSlips(ctx, store.SlipFilter{
			Status:  model.SlipStatus(listStatus),
			Source:  model.Source(listSource),
			Page:    listPage,
			PerPage: listPerPage,
		})
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		fmt.Printf("%-36s  %-10s  %-8s  %12s  %12s  %s\n",
			"ID", "STATUS", "SOURCE", "EXPECTED", "DETECTED", "UPLOADED")
		for i := range items {
			rec := &items[i]
			fmt.Printf("%-36s  %-10s  %-8s  %12s  %12s  %s\n",
				rec.ID, rec.Status, rec.Source,
				fmtAmount(p, rec.ExpectedAmount),
				fmtAmount(p, rec.DetectedAmount),
				rec.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%d of %d slips\n", len(items), total)
		return nil
	},
}

var slipsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print the full slip record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetSlip(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal slip")
		}
		fmt.Println(string(out))
		return nil
	},
}

var (
	reviewMessage string
	reviewActor   string
	reviewStatus  string
)

var slipsReviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Record a staff decision to continue despite a mismatch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetSlip(ctx, args[0])
		if err != nil {
			return err
		}
		if reviewStatus != "" {
			to := model.SlipStatus(reviewStatus)
			if err := validator.CheckTransition(rec.Status, to); err != nil {
				return err
			}
			if err := st.UpdateStatus(ctx, rec.ID, to); err != nil {
				return err
			}
		}
		return st.AppendReviewEvents(ctx, rec.ID, model.ReviewEvent{
			Kind:    model.ReviewContinuedOverride,
			Message: reviewMessage,
			Actor:   reviewActor,
		})
	},
}

var reopenActor string

var slipsReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a slip to pending for manual follow-up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetSlip(ctx, args[0])
		if err != nil {
			return err
		}
		if err := validator.CheckTransition(rec.Status, model.StatusPending); err != nil {
			return err
		}
		if err := st.UpdateStatus(ctx, rec.ID, model.StatusPending); err != nil {
			return err
		}
		return st.AppendReviewEvents(ctx, rec.ID, model.ReviewEvent{
			Kind:  model.ReviewManualRequested,
			Actor: reopenActor,
		})
	},
}

var (
	revalidateFile string
	revalidateRef  string
	revalidateAll  bool
)

var slipsRevalidateCmd = &cobra.Command{
	Use:   "revalidate [id]",
	Short: "Run another validation pass over pending slips",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		open := func(rec *model.SlipRecord) (io.ReadCloser, error) {
			path := revalidateFile
			if path == "" {
				path = rec.FileURL
			}
			if path == "" {
				return nil, eris.Errorf("no stored file for slip %s, pass --file", rec.ID)
			}
			return os.Open(path)
		}

		if revalidateAll {
			n, err := env.Validator.RevalidatePending(ctx, open, cfg.Batch.MaxConcurrent)
			if err != nil {
				return err
			}
			fmt.Printf("revalidated %d slips\n", n)
			return nil
		}

		if len(args) != 1 {
			return eris.New("pass a slip id or --all")
		}
		rec, err := env.Store.GetSlip(ctx, args[0])
		if err != nil {
			return err
		}
		return env.Validator.Revalidate(ctx, rec, revalidateRef, open)
	},
}

var watchInterval time.Duration

var slipsWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Poll a processing slip until it settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		interval := watchInterval
		if interval == 0 {
			interval = time.Duration(cfg.Poll.IntervalSecs) * time.Second
		}

		w := validator.NewWatcher(st, interval)
		rec, err := w.Watch(ctx, args[0], func(r *model.SlipRecord) {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), r.Status)
		})
		if err != nil {
			return err
		}
		fmt.Printf("slip settled: %s\n", rec.Status)
		return nil
	},
}

var exportStatus string

var slipsExportCmd = &cobra.Command{
	Use:   "export <out.xlsx>",
	Short: "Export the review queue to an XLSX report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var all []model.SlipRecord
		for page := 1; ; page++ {
			items, total, err := st.ListSlips(ctx, store.SlipFilter{
				Status:  model.SlipStatus(exportStatus),
				Page:    page,
				PerPage: 200,
			})
			if err != nil {
				return err
			}
			all = append(all, items...)
			if len(all) >= total || len(items) == 0 {
				break
			}
		}

		if err := export.WriteReport(args[0], all); err != nil {
			return err
		}
		fmt.Printf("wrote %d slips to %s\n", len(all), args[0])
		return nil
	},
}

func fmtAmount(p *message.Printer, v *float64) string {
	if v == nil {
		return "-"
	}
	return p.Sprintf("%.2f", *v)
}

func init() {
	slipsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	slipsListCmd.Flags().StringVar(&listSource, "source", "", "filter by source")
	slipsListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	slipsListCmd.Flags().IntVar(&listPerPage, "per-page", 50, "items per page")

	slipsReviewCmd.Flags().StringVar(&reviewMessage, "message", "", "review note")
	slipsReviewCmd.Flags().StringVar(&reviewActor, "actor", "", "staff identifier")
	slipsReviewCmd.Flags().StringVar(&reviewStatus, "status", "", "status to set alongside the note")

	slipsReopenCmd.Flags().StringVar(&reopenActor, "actor", "", "staff identifier")

	slipsRevalidateCmd.Flags().StringVar(&revalidateFile, "file", "", "slip image path (overrides the stored file)")
	slipsRevalidateCmd.Flags().StringVar(&revalidateRef, "reference", "", "transfer reference entered by the customer")
	slipsRevalidateCmd.Flags().BoolVar(&revalidateAll, "all", false, "revalidate every pending slip")

	slipsWatchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")

	slipsExportCmd.Flags().StringVar(&exportStatus, "status", "", "filter by status")

	slipsCmd.AddCommand(slipsListCmd, slipsGetCmd, slipsReviewCmd, slipsReopenCmd,
		slipsRevalidateCmd, slipsWatchCmd, slipsExportCmd)
	rootCmd.AddCommand(slipsCmd)
}
