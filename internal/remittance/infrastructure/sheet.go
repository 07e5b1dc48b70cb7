package infrastructure

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

// ErrUnsupportedSheet 不支持的文件类型
var ErrUnsupportedSheet = errors.New("unsupported remittance file type")

var sheetColumns = []string{"member_id", "period_start", "period_end", "amount"}

// SheetParser 解析雇主上传的 .csv / .xlsx 汇款明细
type SheetParser struct{}

// NewSheetParser 创建解析器
func NewSheetParser() *SheetParser { return &SheetParser{} }

// Parse 按扩展名选择格式，首行为表头
func (p *SheetParser) Parse(filename string, r io.Reader) ([]domain.RecordLine, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		rows, err = cr.ReadAll()
	case ".xlsx":
		rows, err = readWorkbook(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSheet, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return parseRows(rows)
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func parseRows(rows [][]string) ([]domain.RecordLine, error) {
	if len(rows) == 0 {
		return nil, errors.New("file is empty")
	}
	index := make(map[string]int, len(sheetColumns))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := index["amount"]; !ok {
		return nil, errors.New("missing required column amount")
	}
	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lines := make([]domain.RecordLine, 0, len(rows)-1)
	for n, row := range rows[1:] {
		rowNum := n + 2
		if blank(row) {
			continue
		}
		amount, err := decimal.NewFromString(cell(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid amount %q", rowNum, cell(row, "amount"))
		}
		line := domain.RecordLine{MemberID: cell(row, "member_id"), Amount: amount}
		for _, c := range []struct {
			col string
			dst **time.Time
		}{{"period_start", &line.PeriodStart}, {"period_end", &line.PeriodEnd}} {
			v := cell(row, c.col)
			if v == "" {
				continue
			}
			t, err := utils.ParseDate(v)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", rowNum, c.col, err)
			}
			*c.dst = &t
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, errors.New("file has no records")
	}
	return lines, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
