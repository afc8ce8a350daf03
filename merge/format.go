package merge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/mailmerge/sheet"
)

// Policy holds the locale conventions of the Formatter.
type Policy struct {
	DecimalSeparator   string   `yaml:"decimal_separator" json:"decimal_separator"`
	ThousandsSeparator string   `yaml:"thousands_separator" json:"thousands_separator"`
	DateLayout         string   `yaml:"date_layout" json:"date_layout"`
	CurrencyMarkers    []string `yaml:"currency_markers" json:"currency_markers"`
}

// DefaultPolicy is decimal comma, thousands dot, DD/MM/YYYY dates.
func DefaultPolicy() Policy {
	return Policy{
		DecimalSeparator:   ",",
		ThousandsSeparator: ".",
		DateLayout:         "02/01/2006",
		CurrencyMarkers:    []string{"€", "$", "£", "Currency"},
	}
}

const timeLayout = "15:04:05"

// Formatter turns cells into their canonical text. The zero value formats
// with DefaultPolicy.
type Formatter struct {
	policy Policy
}

// NewFormatter returns a Formatter for p; zero fields take the defaults.
func NewFormatter(p Policy) Formatter {
	d := DefaultPolicy()
	if p.DecimalSeparator == "" {
		p.DecimalSeparator = d.DecimalSeparator
	}
	if p.ThousandsSeparator == "" {
		p.ThousandsSeparator = d.ThousandsSeparator
	}
	if p.DateLayout == "" {
		p.DateLayout = d.DateLayout
	}
	if p.CurrencyMarkers == nil {
		p.CurrencyMarkers = d.CurrencyMarkers
	}
	return Formatter{policy: p}
}

// Policy returns the effective policy.
func (f Formatter) Policy() Policy {
	if f.policy.DateLayout == "" {
		return DefaultPolicy()
	}
	return f.policy
}

// Format renders c. It fails only when the cell value does not hold the
// Go type its Kind promises.
func (f Formatter) Format(c sheet.Cell) (string, error) {
	p := f.Policy()
	if c.Empty() {
		return "", nil
	}
	switch c.Kind {
	case sheet.KindDate, sheet.KindTime:
		t, ok := c.Value.(time.Time)
		if !ok {
			return "", fmt.Errorf("%s cell holds %T", c.Kind, c.Value)
		}
		if c.Kind == sheet.KindTime {
			return t.Format(timeLayout), nil
		}
		return t.Format(p.DateLayout), nil
	case sheet.KindNumber:
		v, ok := number(c.Value)
		if !ok {
			return "", fmt.Errorf("numeric cell holds %T", c.Value)
		}
		if p.isCurrency(c.Format) {
			return p.currency(v), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case sheet.KindText:
		s, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("text cell holds %T", c.Value)
		}
		return s, nil
	case sheet.KindBool:
		if b, ok := c.Value.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	}
	return fmt.Sprint(c.Value), nil
}

// number accepts the Go numeric types a KindNumber cell may carry.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

func (p Policy) isCurrency(format string) bool {
	for _, m := range p.CurrencyMarkers {
		if m != "" && strings.Contains(format, m) {
			return true
		}
	}
	return false
}

// currency renders v with two decimals and grouped thousands.
func (p Policy) currency(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var sb strings.Builder
	if v < 0 && strings.Trim(s, "0.") != "" {
		sb.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	sb.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		sb.WriteString(p.ThousandsSeparator)
		sb.WriteString(intPart[i : i+3])
	}
	sb.WriteString(p.DecimalSeparator)
	sb.WriteString(frac)
	return sb.String()
}
