package xlsx

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/signflow/internal/core/domain"
)

const (
	auditSheet   = "Audit"
	summarySheet = "Summary"
)

var auditHeader = []any{"Seq", "Time (UTC)", "Action", "Actor", "Document", "Details", "Prev hash", "Entry hash"}

// WriteAuditTrail renders a request's audit trail as a workbook with one
// row per entry and a summary sheet carrying the chain check.
func WriteAuditTrail(w io.Writer, trail *domain.AuditTrail) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", auditSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(auditSheet, "A1", &auditHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, e := range trail.Entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		row := []any{
			e.Seq,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			string(e.Action),
			e.ActorID,
			e.DocumentID,
			string(details),
			e.PrevHash,
			e.EntryHash,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(auditSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(auditSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	chain := "intact"
	if !trail.ChainValid {
		chain = "broken at " + trail.BrokenAt
	}
	summary := [][]any{
		{"Request", trail.RequestID},
		{"Entries", len(trail.Entries)},
		{"Hash chain", chain},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
