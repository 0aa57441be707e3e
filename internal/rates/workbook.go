package rates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var headerMarkers = []string{"渠道名称", "channel name"}

// serviceKeywords are matched case-insensitively in listed order, so
// compound tiers come before their suffixes.
var serviceKeywords = []string{
	"Extra Small",
	"Premium",
	"Express",
	"Standard",
	"Economy",
	"Budget",
	"Small",
	"Big",
	"特快",
	"标准",
	"经济",
	"快速",
}

const (
	num      = `(\d+(?:\.\d+)?)`
	currency = `(?:元|¥|￥|rmb|cny)`
	kgUnit   = `(千克|公斤|kg)`
	gUnit    = `(克|g)`
	anyUnit  = `(千克|公斤|kg|克|g)`
)

type feePattern struct {
	re   *regexp.Regexp
	base int
	rate int
	unit int
}

// feePatterns are tried in order; the first match wins.
var feePatterns = []feePattern{
	// 50元 + 2元/kg
	{regexp.MustCompile(`(?i)` + num + `\s*` + currency + `\s*[+＋,，]?\s*` + num + `\s*` + currency + `?\s*/\s*` + kgUnit), 1, 2, 3},
	// 50元 + 0.02元/g
	{regexp.MustCompile(`(?i)` + num + `\s*` + currency + `\s*[+＋,，]?\s*` + num + `\s*` + currency + `?\s*/\s*` + gUnit), 1, 2, 3},
	// 2元/kg + 50元
	{regexp.MustCompile(`(?i)` + num + `\s*` + currency + `?\s*/\s*` + anyUnit + `\s*[+＋,，]?\s*` + num + `\s*` + currency), 3, 1, 2},
	// 2元/kg
	{regexp.MustCompile(`(?i)` + num + `\s*` + currency + `?\s*/\s*` + anyUnit), 0, 1, 2},
}

var (
	weightLimitPattern    = regexp.MustCompile(`(?i)` + num + `\s*(?:kg|千克|公斤)`)
	valueLimitPattern     = regexp.MustCompile(`(?i)` + num + `\s*(?:卢布|rub|₽)`)
	singleSidePattern     = regexp.MustCompile(`(?i)(?:单边|最长边)\D{0,6}?` + num + `\s*cm`)
	dimensionLimitPattern = regexp.MustCompile(`(?i)` + num + `\s*cm`)
	deliveryDaysPattern   = regexp.MustCompile(`(?i)\d+\s*[-~～]\s*\d+\s*(?:天|日|days?)`)
	providerSuffixPattern = regexp.MustCompile(`(?i)\s*(?:运费|价格|报价|rates?)\s*$`)
)

// ParseWorkbook opens an xlsx rate table and parses every sheet.
func ParseWorkbook(path string) ([]Channel, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate table: %w", err)
	}
	defer f.Close()

	return ParseFile(f)
}

// ParseFile treats each sheet as one provider, in workbook order.
func ParseFile(f *excelize.File) ([]Channel, error) {
	var channels []Channel

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		channels = append(channels, ParseSheet(providerName(sheet), rows)...)
	}

	return channels, nil
}

// ParseSheet extracts the channels below the header row. Rows that carry
// no recognizable tier name or fee are skipped.
func ParseSheet(provider string, rows [][]string) []Channel {
	headerRow, nameCol := findHeader(rows)
	if headerRow < 0 {
		return nil
	}

	var channels []Channel
	for _, row := range rows[headerRow+1:] {
		if nameCol >= len(row) {
			continue
		}
		if ch, ok := parseRow(provider, row, nameCol); ok {
			channels = append(channels, ch)
		}
	}
	return channels
}

func findHeader(rows [][]string) (int, int) {
	for i, row := range rows {
		for j, cell := range row {
			lower := strings.ToLower(cell)
			for _, marker := range headerMarkers {
				if strings.Contains(lower, marker) {
					return i, j
				}
			}
		}
	}
	return -1, -1
}

func parseRow(provider string, row []string, nameCol int) (Channel, bool) {
	name := strings.TrimSpace(row[nameCol])
	level, ok := serviceLevel(name)
	if !ok {
		return Channel{}, false
	}

	ch := Channel{
		Provider:     provider,
		Name:         name,
		ServiceLevel: level,
	}

	if !parseFee(row, nameCol, &ch) {
		return Channel{}, false
	}
	parseLimits(row, nameCol, &ch)

	return ch, true
}

func serviceLevel(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, kw := range serviceKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func parseFee(row []string, nameCol int, ch *Channel) bool {
	for _, p := range feePatterns {
		for i, cell := range row {
			if i == nameCol {
				continue
			}
			m := p.re.FindStringSubmatch(cell)
			if m == nil {
				continue
			}
			if p.base > 0 {
				ch.BaseFee = parseFloat(m[p.base])
			}
			ch.WeightFee = parseFloat(m[p.rate])
			ch.WeightUnit = normalizeUnit(m[p.unit])
			return true
		}
	}
	return false
}

func parseLimits(row []string, nameCol int, ch *Channel) {
	for i, cell := range row {
		if i == nameCol {
			continue
		}
		// Fee cells mention kg as a rate unit, not a limit.
		if isFeeCell(cell) {
			continue
		}

		if ch.MaxWeightKg == 0 {
			if m := weightLimitPattern.FindStringSubmatch(cell); m != nil {
				ch.MaxWeightKg = parseFloat(m[1])
			}
		}
		if ch.MaxValueRub == 0 {
			if m := valueLimitPattern.FindStringSubmatch(cell); m != nil {
				ch.MaxValueRub = parseFloat(m[1])
			}
		}

		rest := cell
		if loc := singleSidePattern.FindStringSubmatchIndex(cell); loc != nil {
			if ch.MaxSingleSide == 0 {
				ch.MaxSingleSide = parseFloat(cell[loc[2]:loc[3]])
			}
			rest = cell[:loc[0]] + cell[loc[1]:]
		}
		if ch.MaxDimensions == 0 {
			if m := dimensionLimitPattern.FindStringSubmatch(rest); m != nil {
				ch.MaxDimensions = parseFloat(m[1])
			}
		}

		if ch.DeliveryDays == "" {
			if m := deliveryDaysPattern.FindString(cell); m != "" {
				ch.DeliveryDays = strings.ReplaceAll(m, " ", "")
			}
		}
	}
}

func isFeeCell(cell string) bool {
	for _, p := range feePatterns {
		if p.re.MatchString(cell) {
			return true
		}
	}
	return false
}

func normalizeUnit(u string) string {
	switch strings.ToLower(u) {
	case "克", "g":
		return UnitG
	}
	return UnitKg
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func providerName(sheet string) string {
	name := providerSuffixPattern.ReplaceAllString(sheet, "")
	if name == "" {
		return sheet
	}
	return name
}
