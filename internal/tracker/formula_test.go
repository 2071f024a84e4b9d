package tracker

import "testing"

func TestFormulaCombinators(t *testing.T) {
	cases := []struct {
		name string
		got  Formula
		want string
	}{
		{"equals", Equals("Status", "Error"), "{Status} = 'Error'"},
		{"equals escapes quotes", Equals("Name", "O'Brien"), `{Name} = 'O\'Brien'`},
		{"blank", Blank("Complaint File"), "NOT({Complaint File})"},
		{"less than", LessThan("Attempts", 5), "{Attempts} < 5"},
		{"and", And(Equals("A", "1"), Equals("B", "2")), "AND({A} = '1',{B} = '2')"},
		{"or", Or(Equals("A", "1"), Equals("B", "2")), "OR({A} = '1',{B} = '2')"},
		{"single operand collapses", And(Equals("A", "1")), "{A} = '1'"},
		{
			"queue formula",
			queueFormula(DefaultFields(), 5),
			"AND(NOT({Complaint File})," +
				"OR({Complaint Status} = '',{Complaint Status} = 'Error')," +
				"OR({Complaint Attempt Count} = '',{Complaint Attempt Count} < 5))",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if string(tc.got) != tc.want {
				t.Fatalf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}
