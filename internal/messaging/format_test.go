package messaging

import "testing"

func TestFormatForWhatsApp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"**bold** statement", "*bold* statement"},
		{"two **bold** words **here**", "two *bold* words *here*"},
		{"cited【4:0†source】 text", "cited text"},
		{"  padded  ", "padded"},
		{"**Programs**【1†catalog】 available", "*Programs* available"},
		{"", ""},
	}
	for _, c := range cases {
		if got := FormatForWhatsApp(c.in); got != c.want {
			t.Errorf("FormatForWhatsApp(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
