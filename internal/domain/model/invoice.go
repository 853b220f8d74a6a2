package model

// InvoiceRecord is one normalized manifest row: the invoice fields the
// composer needs plus the name of the PDF entry it pairs with. Records are
// ephemeral; they live only for the duration of a single batch run.
type InvoiceRecord struct {
	Filename string

	InvoiceNumber string
	InvoiceDate   string

	SellerName        string
	SellerSiret       string
	SellerVatNumber   string
	SellerStreet      string
	SellerZipCode     string
	SellerCity        string
	SellerCountryCode string

	BuyerName        string
	BuyerSiret       string
	BuyerVatNumber   string
	BuyerStreet      string
	BuyerZipCode     string
	BuyerCity        string
	BuyerCountryCode string

	CurrencyCode string
	TotalHT      string
	TotalTVA     string
	TotalTTC     string

	PaymentTerms   string
	PaymentDueDate string
}
