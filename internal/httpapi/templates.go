package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/fieldserve/importer/internal/importer"
	"github.com/fieldserve/importer/internal/logging"
)

// handleDownloadTemplate produces a starter spreadsheet for an entity type:
// one header row with the contract's field names and one example row.
// Required fields come first, in contract order.
//
//	GET /api/import/template/{entityType}?format=csv|xlsx (default xlsx)
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	entity := importer.EntityType(chi.URLParam(r, "entityType"))
	contract, ok := importer.ContractFor(entity)
	if !ok {
		s.respondError(w, r, importer.ErrUnknownEntityType)
		return
	}

	header := make([]string, 0, len(contract.Fields))
	example := make([]string, 0, len(contract.Fields))
	for _, f := range templateFields(contract) {
		header = append(header, f.Name)
		example = append(example, f.Example)
	}

	name := strings.ReplaceAll(string(entity), "-", "_") + "_import_template"
	if r.URL.Query().Get("format") == "csv" {
		s.writeCSVTemplate(w, r, name, header, example)
		return
	}
	s.writeXLSXTemplate(w, r, name, header, example)
}

// templateFields orders the contract's fields required-first.
func templateFields(c *importer.Contract) []importer.FieldSpec {
	fields := make([]importer.FieldSpec, 0, len(c.Fields))
	for _, f := range c.Fields {
		if f.Required {
			fields = append(fields, f)
		}
	}
	for _, f := range c.Fields {
		if !f.Required {
			fields = append(fields, f)
		}
	}
	return fields
}

func (s *Server) writeCSVTemplate(w http.ResponseWriter, r *http.Request, name string, rows ...[]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))

	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			logging.FromContext(r.Context()).Error("write csv template", "error", err)
			return
		}
	}
	cw.Flush()
}

func (s *Server) writeXLSXTemplate(w http.ResponseWriter, r *http.Request, name string, rows ...[]string) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err == nil {
			err = f.SetSheetRow(sheet, cell, &row)
		}
		if err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
	if err := f.Write(w); err != nil {
		logging.FromContext(r.Context()).Error("write xlsx template", "error", err)
	}
}
