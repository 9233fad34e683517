package model

type ChapaCustomization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ChapaInitializeRequest struct {
	Amount        string             `json:"amount"`
	Currency      string             `json:"currency"`
	Email         string             `json:"email"`
	FirstName     string             `json:"first_name"`
	LastName      string             `json:"last_name"`
	TxRef         string             `json:"tx_ref"`
	CallbackURL   string             `json:"callback_url"`
	ReturnURL     string             `json:"return_url"`
	Customization ChapaCustomization `json:"customization"`
}

type ChapaInitializeResult struct {
	Status string `json:"status"`
	Data   struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

type ChapaTransaction struct {
	Status    string `json:"status"` // success, pending, failed
	Method    string `json:"method"`
	Reference string `json:"reference"`
	TxRef     string `json:"tx_ref"`
	Currency  string `json:"currency"`
}

type ChapaVerifyResult struct {
	Status string           `json:"status"`
	Data   ChapaTransaction `json:"data"`
}
