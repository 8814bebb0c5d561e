package patient

import "testing"

func TestPatient_FullName(t *testing.T) {
	cases := []struct {
		first, last string
		want        string
	}{
		{"Ana", "Silva", "Silva, Ana"},
		{"", "Doe", "Doe"},
		{"Ben", "", ", Ben"},
	}
	for _, c := range cases {
		p := &Patient{FirstName: c.first, LastName: c.last}
		if got := p.FullName(); got != c.want {
			t.Errorf("FullName(%q, %q) = %q, want %q", c.first, c.last, got, c.want)
		}
	}
}
