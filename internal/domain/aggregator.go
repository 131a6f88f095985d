package domain

// --- Bank aggregator models ---

// Bank represents a single institution supported by the bank aggregator.
type Bank struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name string `json:"name"`
		Code string `json:"code"`
	} `json:"attributes"`
}

// ListBanksResponse is the response structure for the list banks endpoint.
type ListBanksResponse struct {
	Data []Bank `json:"data"`
}

// VerifyAccountResponse is the aggregator's account-name lookup result.
type VerifyAccountResponse struct {
	Data struct {
		Attributes struct {
			AccountName   string `json:"accountName"`
			AccountNumber string `json:"accountNumber"`
			BankName      string `json:"bankName"`
		} `json:"attributes"`
	} `json:"data"`
}
