package evidence

import "github.com/opensource-finance/trancheready/internal/domain"

// SampleBatch returns the built-in demonstration dataset: four clients and
// seven transactions, one of each typology plus a PEP.
func SampleBatch() domain.Batch {
	d := domain.MustParseDate
	return domain.Batch{
		Clients: []domain.Client{
			{ClientID: "C-1001", FullName: "Acacia Legal", ResidencyCountry: "AU", KYCLastReviewedAt: d("2024-02-10")},
			{ClientID: "C-1002", FullName: "Harbor Group", PEPFlag: true, ResidencyCountry: "AU", KYCLastReviewedAt: d("2023-01-15")},
			{ClientID: "C-1003", FullName: "Blue Kangaroo", ResidencyCountry: "HK", KYCLastReviewedAt: d("2022-06-01")},
			{ClientID: "C-1004", FullName: "Southern Realty", ResidencyCountry: "AU", KYCLastReviewedAt: d("2024-10-01")},
		},
		Transactions: []domain.Transaction{
			{TxID: "T-0001", ClientID: "C-1004", Date: d("2025-03-01"), Amount: 9800, Currency: "AUD", Direction: domain.DirectionIn, Method: "cash", CounterpartyCountry: "AU"},
			{TxID: "T-0002", ClientID: "C-1004", Date: d("2025-03-02"), Amount: 9900, Currency: "AUD", Direction: domain.DirectionIn, Method: "cash", CounterpartyCountry: "AU"},
			{TxID: "T-0003", ClientID: "C-1004", Date: d("2025-03-04"), Amount: 9960, Currency: "AUD", Direction: domain.DirectionIn, Method: "cash", CounterpartyCountry: "AU"},
			{TxID: "T-0004", ClientID: "C-1004", Date: d("2025-03-05"), Amount: 9700, Currency: "AUD", Direction: domain.DirectionIn, Method: "cash", CounterpartyCountry: "AU"},
			{TxID: "T-0005", ClientID: "C-1003", Date: d("2025-07-01"), Amount: 21000, Currency: "AUD", Direction: domain.DirectionOut, Method: "wire", CounterpartyCountry: "HK"},
			{TxID: "T-0006", ClientID: "C-1003", Date: d("2025-07-22"), Amount: 5500, Currency: "AUD", Direction: domain.DirectionOut, Method: "wire", CounterpartyCountry: "HK"},
			{TxID: "T-0007", ClientID: "C-1001", Date: d("2025-06-10"), Amount: 120000, Currency: "AUD", Direction: domain.DirectionOut, Method: "wire", CounterpartyCountry: "AU"},
		},
		Lookback: domain.Lookback{Start: d("2024-01-22"), End: d("2025-07-22")},
	}
}
