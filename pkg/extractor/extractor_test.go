package extractor

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func TestExtract_DebitAlert(t *testing.T) {
	e := New(Options{})
	got := e.Extract(Input{
		Body: "Your account was debited Rs. 1,500.00 on 2024-01-15 at Amazon Store. Txn ID: TXN123456789",
	})

	if !slices.Contains(got.Amounts, "1500.00") {
		t.Errorf("amounts: got %v, want to contain 1500.00", got.Amounts)
	}
	if want := []string{"2024-01-15"}; !reflect.DeepEqual(got.Dates, want) {
		t.Errorf("dates: got %v, want %v", got.Dates, want)
	}
	if !slices.Contains(got.Merchants, "Amazon Store") {
		t.Errorf("merchants: got %v, want to contain Amazon Store", got.Merchants)
	}
	if want := []string{"TXN123456789"}; !reflect.DeepEqual(got.TransactionIDs, want) {
		t.Errorf("transaction ids: got %v, want %v", got.TransactionIDs, want)
	}
	if got.Currency != "NPR" {
		t.Errorf("currency: got %q, want NPR", got.Currency)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := New(Options{})
	in := Input{
		Subject:    "Payment receipt",
		Body:       "Paid to Bhatbhateni Supermarket NPR 350 and Rs 1,200.50 at Big Mart on 15 Jan 2024. Total: Rs 1,550.50. Ref No. AB12345 yesterday",
		Sender:     "noreply@esewa.com.np",
		ReceivedAt: time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC),
	}

	first := e.Extract(in)
	for range 5 {
		if got := e.Extract(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("extract not deterministic:\nfirst %+v\nthen  %+v", first, got)
		}
	}
}

func TestExtract_EmptyFieldsAreEmptyLists(t *testing.T) {
	got := New(Options{}).Extract(Input{Subject: "hello", Body: "nothing to see here"})

	for name, field := range map[string][]string{
		"amounts":         got.Amounts,
		"dates":           got.Dates,
		"merchants":       got.Merchants,
		"transaction_ids": got.TransactionIDs,
	} {
		if field == nil || len(field) != 0 {
			t.Errorf("%s: got %#v, want empty non-nil list", name, field)
		}
	}
	if got.Currency != "" {
		t.Errorf("currency: got %q, want empty", got.Currency)
	}
}

func TestExtractAmounts(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		want         []string
		wantCurrency string
	}{
		{
			name:         "total ranks first",
			text:         "Item NPR 200, delivery NPR 50. Total amount: NPR 250",
			want:         []string{"250.00", "200.00", "50.00"},
			wantCurrency: "NPR",
		},
		{
			name:         "duplicates collapse",
			text:         "Rs 1,500 debited. Amount Rs. 1500.00",
			want:         []string{"1500.00"},
			wantCurrency: "NPR",
		},
		{
			name:         "lakh grouping",
			text:         "INR 1,00,000 credited",
			want:         []string{"100000.00"},
			wantCurrency: "INR",
		},
		{
			name:         "euro separators",
			text:         "You paid 1.234,56 EUR",
			want:         []string{"1234.56"},
			wantCurrency: "EUR",
		},
		{
			name:         "symbol prefix",
			text:         "Charged $42.10 to your card",
			want:         []string{"42.10"},
			wantCurrency: "USD",
		},
		{
			name:         "code suffix",
			text:         "2,000 NPR withdrawn",
			want:         []string{"2000.00"},
			wantCurrency: "NPR",
		},
		{
			name: "labeled without currency",
			text: "Amount: 999",
			want: []string{"999.00"},
		},
		{
			name:         "keyword before a day-first date",
			text:         "Amount debited on 15-01-2024 from your savings account via mobile banking: NPR 2,500.00",
			want:         []string{"2500.00"},
			wantCurrency: "NPR",
		},
		{
			name:         "keyword before an iso date",
			text:         "Amount debited on 2024-01-15: Rs. 1,500.00",
			want:         []string{"1500.00"},
			wantCurrency: "NPR",
		},
		{
			name:         "account number after total",
			text:         "Total for A/C 4521 is NPR 800",
			want:         []string{"800.00"},
			wantCurrency: "NPR",
		},
		{
			name: "bare total date only",
			text: "Total due by 2024/02/01",
			want: []string{},
		},
		{
			name: "zero is not an amount",
			text: "Rs 0.00 balance",
			want: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, currency := extractAmounts(tc.text, DefaultMaxAmounts)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("amounts: got %v, want %v", got, tc.want)
			}
			if currency != tc.wantCurrency {
				t.Errorf("currency: got %q, want %q", currency, tc.wantCurrency)
			}
		})
	}
}

func TestExtractAmounts_Cap(t *testing.T) {
	got, _ := extractAmounts("Rs 1 Rs 2 Rs 3 Rs 4 Rs 5 Rs 6 Rs 7", 5)
	if len(got) != 5 {
		t.Errorf("got %d amounts, want 5", len(got))
	}
}

func TestExtractDates(t *testing.T) {
	received := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "iso", text: "on 2024-01-15", want: []string{"2024-01-15"}},
		{name: "day first", text: "on 15/01/2024", want: []string{"2024-01-15"}},
		{name: "month first when day is impossible", text: "on 01/15/2024", want: []string{"2024-01-15"}},
		{name: "two digit year", text: "on 05-02-24", want: []string{"2024-02-05"}},
		{name: "spelled month", text: "on 15 Jan 2024 and Feb 3rd, 2024", want: []string{"2024-01-15", "2024-02-03"}},
		{name: "dashed spelled month", text: "dated 15-Jan-2024", want: []string{"2024-01-15"}},
		{name: "relative", text: "yesterday and today", want: []string{"2024-02-29", "2024-03-01"}},
		{name: "occurrence order and dedupe", text: "2024/02/10 then 2024-01-01 then 10/02/2024", want: []string{"2024-02-10", "2024-01-01"}},
		{name: "invalid calendar date", text: "on 2024-02-30", want: []string{}},
		{name: "year out of range", text: "on 1850-01-01", want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractDates(tc.text, received); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtractDates_RelativeWithoutTimestamp(t *testing.T) {
	if got := extractDates("paid yesterday", time.Time{}); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestExtractMerchants(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		sender string
		want   []string
	}{
		{
			name: "paid to outranks from",
			text: "Received from Ram Bahadur. Paid to Daraz Online for order",
			want: []string{"Daraz Online", "Ram Bahadur"},
		},
		{
			name:   "sender institution dropped",
			text:   "NPR 500 debited from Nabil Bank account at Himalayan Java",
			sender: "alerts@nabilbank.com",
			want:   []string{"Himalayan Java"},
		},
		{
			name: "stoplist cuts phrase",
			text: "Spent Rs 300 at Cafe Mitra On 12 Jan",
			want: []string{"Cafe Mitra"},
		},
		{
			name: "generic words only",
			text: "Transferred to Your Account",
			want: []string{},
		},
		{
			name: "case insensitive dedupe",
			text: "paid at Big Mart. Later at BIG MART again",
			want: []string{"Big Mart"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractMerchants(tc.text, tc.sender, 3); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtractTransactionIDs(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{text: "Txn ID: TXN123456789", want: []string{"TXN123456789"}},
		{text: "Transaction ID: 0012ABC789. Ref No. 889911", want: []string{"0012ABC789", "889911"}},
		{text: "UTR 412345678901 and UTR: 412345678901", want: []string{"412345678901"}},
		{text: "For your reference, please check", want: []string{}},
		{text: "Ref No: ABCDEFG", want: []string{}},
		{text: "Txn no 12", want: []string{}},
	}

	for _, tc := range tests {
		if got := extractTransactionIDs(tc.text); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractTransactionIDs(%q): got %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestCombinedConfidence(t *testing.T) {
	tests := []struct {
		name string
		cls  float64
		data api.ExtractedData
		want float64
	}{
		{name: "empty extraction", cls: 1, data: api.ExtractedData{}, want: 0.7},
		{
			name: "complete extraction",
			cls:  1,
			data: api.ExtractedData{Amounts: []string{"1"}, Dates: []string{"d"}, Merchants: []string{"m"}, TransactionIDs: []string{"t"}},
			want: 1,
		},
		{name: "out of range classifier confidence", cls: 3, data: api.ExtractedData{}, want: 0.7},
		{name: "negative classifier confidence", cls: -1, data: api.ExtractedData{Amounts: []string{"1"}, Dates: []string{"d"}}, want: 0.15},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CombinedConfidence(tc.cls, tc.data)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	got := Normalize(PlainText(`<html><style>p{color:red}</style><p>Paid&nbsp;Rs&nbsp;500</p><br>at <b>Big Mart</b></html>`))
	want := "Paid Rs 500\nat Big Mart"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
