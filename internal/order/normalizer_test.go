package order

import (
	"encoding/json"
	"reflect"
	"testing"
)

func rawActions(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return out
}

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []CartAction
	}{
		{
			name: "canonical names",
			raw:  `[{"type":"ADD","item":"Latte","quantity":2},{"type":"REMOVE","item":"Mocha","quantity":1},{"type":"EMPTY_CART"}]`,
			want: []CartAction{
				{Kind: KindAdd, Item: "Latte", Quantity: 2},
				{Kind: KindRemove, Item: "Mocha", Quantity: 1},
				{Kind: KindEmptyCart},
			},
		},
		{
			name: "loose spelling",
			raw:  `[{"type":" add ","item":"Latte"},{"action":"empty cart"},{"type":"Empty-Cart"}]`,
			want: []CartAction{
				{Kind: KindAdd, Item: "Latte", Quantity: 1},
				{Kind: KindEmptyCart},
				{Kind: KindEmptyCart},
			},
		},
		{
			name: "numeric codes",
			raw:  `[{"type":0,"item":"Tea"},{"type":1,"item":"Tea"},{"type":"2"},{"type":3}]`,
			want: []CartAction{
				{Kind: KindAdd, Item: "Tea", Quantity: 1},
				{Kind: KindRemove, Item: "Tea", Quantity: 1},
				{Kind: KindEmptyCart},
			},
		},
		{
			name: "quantity coercion",
			raw: `[{"type":"ADD","item":"A","quantity":"4"},{"type":"ADD","item":"B","quantity":0},` +
				`{"type":"ADD","item":"C","quantity":-2},{"type":"ADD","item":"D","quantity":1.5},` +
				`{"type":"ADD","item":"E","quantity":"lots"},{"type":"ADD","item":"F","quantity":3.0}]`,
			want: []CartAction{
				{Kind: KindAdd, Item: "A", Quantity: 4},
				{Kind: KindAdd, Item: "B", Quantity: 1},
				{Kind: KindAdd, Item: "C", Quantity: 1},
				{Kind: KindAdd, Item: "D", Quantity: 1},
				{Kind: KindAdd, Item: "E", Quantity: 1},
				{Kind: KindAdd, Item: "F", Quantity: 3},
			},
		},
		{
			name: "empty cart clears item and quantity",
			raw:  `[{"type":"EMPTY_CART","item":"Latte","quantity":5}]`,
			want: []CartAction{{Kind: KindEmptyCart}},
		},
		{
			name: "name key is accepted",
			raw:  `[{"type":"ADD","name":"Scone"}]`,
			want: []CartAction{{Kind: KindAdd, Item: "Scone", Quantity: 1}},
		},
		{
			name: "dropped entries",
			raw:  `[{"type":"ADD"},{"type":"REMOVE","item":"  "},{"type":"REFUND","item":"Latte"},{"type":"QUERY_CART"},{"type":9},"ADD",42]`,
			want: []CartAction{},
		},
	}

	n := NewNormalizer(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := n.Normalize(rawActions(t, tc.raw))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Normalize = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalizer_MenuCanonicalization(t *testing.T) {
	t.Parallel()

	n := NewNormalizer([]string{"Cappuccino", "Flat White", "Chocolate Croissant", "Peach"})

	tests := []struct {
		in   string
		want string
	}{
		{"cappuccino", "Cappuccino"},
		{"CAPPUCCINOS", "Cappuccino"},
		{"flat whites", "Flat White"},
		{"peaches", "Peach"},
		{"chocolate croissant", "Chocolate Croissant"},
		{"Unicorn Frappe", "Unicorn Frappe"},
		{"cappucino", "Cappuccino"},
		{"flat wite", "Flat White"},
		{"flatwhite", "Flat White"},
		{"Chocolate Muffin", "Chocolate Muffin"},
	}
	for _, tc := range tests {
		raw := []json.RawMessage{json.RawMessage(`{"type":"ADD","item":"` + tc.in + `"}`)}
		got := n.Normalize(raw)
		if len(got) != 1 || got[0].Item != tc.want {
			t.Errorf("Normalize(%q) = %+v, want item %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizer_NilInput(t *testing.T) {
	t.Parallel()

	got := NewNormalizer(nil).Normalize(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Normalize(nil) = %#v, want empty non-nil slice", got)
	}
}
