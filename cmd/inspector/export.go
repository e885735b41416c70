package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/engine"
	"github.com/devblac/chain-inspector/internal/storage"
)

var (
	flagExportCategory string
	flagExportFormat   string
	flagExportOutput   string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportCategory, "category", "", "Only export this category (trade or staking)")
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVarP(&flagExportOutput, "output", "o", "", "Write to file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded delivery failures as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		cats := engine.Categories
		if flagExportCategory != "" {
			cat, err := engine.ParseCategory(flagExportCategory)
			if err != nil {
				return err
			}
			cats = []engine.Category{cat}
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, err := storage.Open(cfg.Global.Storage, cfg.Global.DataDir, cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer ledger.Close()

		out := cmd.OutOrStdout()
		if flagExportOutput != "" {
			f, err := os.Create(flagExportOutput)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}
		return exportFailures(cmd.Context(), out, ledger, cats, flagExportFormat)
	},
}

// exportedRecord is one failure record flattened for export. The file
// ledger does not timestamp batches, so CreatedAt may be empty.
type exportedRecord struct {
	Category  string          `json:"category"`
	CreatedAt string          `json:"created_at,omitempty"`
	ChainID   string          `json:"chain_id"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Status    int             `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Record    json.RawMessage `json:"record"`
}

func exportFailures(ctx context.Context, out io.Writer, ledger storage.Ledger, cats []engine.Category, format string) error {
	var records []exportedRecord
	for _, cat := range cats {
		batches, err := ledger.Failures(ctx, string(cat))
		if err != nil {
			return fmt.Errorf("read %s failures: %w", cat, err)
		}
		for _, b := range batches {
			recs, err := flatten(b)
			if err != nil {
				return err
			}
			records = append(records, recs...)
		}
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []exportedRecord{}
		}
		return enc.Encode(records)
	case "csv":
		w := csv.NewWriter(out)
		_ = w.Write([]string{"category", "created_at", "chain_id", "method", "path", "status", "error", "record"})
		for _, r := range records {
			status := ""
			if r.Status != 0 {
				status = strconv.Itoa(r.Status)
			}
			_ = w.Write([]string{r.Category, r.CreatedAt, r.ChainID, r.Method, r.Path, status, r.Error, string(r.Record)})
		}
		w.Flush()
		return w.Error()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func flatten(b storage.FailureBatch) ([]exportedRecord, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(b.Records, &raws); err != nil {
		return nil, fmt.Errorf("decode %s failure batch: %w", b.Category, err)
	}
	out := make([]exportedRecord, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Path    string `json:"path"`
			Method  string `json:"method"`
			ChainID string `json:"chainId"`
			Status  int    `json:"status"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("decode %s failure record: %w", b.Category, err)
		}
		var created string
		if !b.CreatedAt.IsZero() {
			created = b.CreatedAt.UTC().Format(time.RFC3339)
		}
		chainID := head.ChainID
		if chainID == "" {
			chainID = b.ChainID
		}
		out = append(out, exportedRecord{
			Category:  b.Category,
			CreatedAt: created,
			ChainID:   chainID,
			Method:    head.Method,
			Path:      head.Path,
			Status:    head.Status,
			Error:     head.Error,
			Record:    raw,
		})
	}
	return out, nil
}
