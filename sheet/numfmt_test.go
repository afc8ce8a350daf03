package sheet

import "testing"

func TestFormatKind(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{"General", KindNumber},
		{"", KindNumber},
		{"0.00", KindNumber},
		{`#,##0.00 "€"`, KindNumber},
		{`[$€-410] #,##0.00`, KindNumber},
		{builtinFormats[44], KindNumber},
		{"0.00E+00", KindNumber},
		{"dd/mm/yyyy", KindDate},
		{"mm-dd-yy", KindDate},
		{"m/d/yy h:mm", KindDate},
		{"mmm", KindDate},
		{"h:mm AM/PM", KindTime},
		{"[h]:mm:ss", KindTime},
		{`"day" 0`, KindNumber},
		{`0.00;"yes";"no"`, KindNumber},
	}
	for _, tt := range tests {
		if got := formatKind(tt.code); got != tt.want {
			t.Errorf("formatKind(%q) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
