package manifest

import "facturx-batch/internal/domain/model"

// Each logical field accepts several header spellings (English first, then
// the French aliases used by legacy manifests). Resolution takes the first
// alias whose cell is non-empty, so an English column always wins over its
// French counterpart when both are present.
type fieldSpec struct {
	aliases []string
	assign  func(r *model.InvoiceRecord, v string)
}

var fieldSpecs = []fieldSpec{
	{[]string{"filename", "fichier", "pdf"}, func(r *model.InvoiceRecord, v string) { r.Filename = v }},
	{[]string{"invoicenumber", "invoice_number", "numero"}, func(r *model.InvoiceRecord, v string) { r.InvoiceNumber = v }},
	{[]string{"invoicedate", "invoice_date", "date"}, func(r *model.InvoiceRecord, v string) { r.InvoiceDate = v }},
	{[]string{"sellername", "seller_name", "vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerName = v }},
	{[]string{"sellersiret", "seller_siret", "siret_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerSiret = v }},
	{[]string{"sellervatnumber", "seller_vat_number", "tva_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerVatNumber = v }},
	{[]string{"sellerstreet", "seller_street", "adresse_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerStreet = v }},
	{[]string{"sellerzipcode", "seller_zip_code", "cp_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerZipCode = v }},
	{[]string{"sellercity", "seller_city", "ville_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerCity = v }},
	{[]string{"sellercountrycode", "seller_country_code", "pays_vendeur"}, func(r *model.InvoiceRecord, v string) { r.SellerCountryCode = v }},
	{[]string{"buyername", "buyer_name", "acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerName = v }},
	{[]string{"buyersiret", "buyer_siret", "siret_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerSiret = v }},
	{[]string{"buyervatnumber", "buyer_vat_number", "tva_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerVatNumber = v }},
	{[]string{"buyerstreet", "buyer_street", "adresse_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerStreet = v }},
	{[]string{"buyerzipcode", "buyer_zip_code", "cp_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerZipCode = v }},
	{[]string{"buyercity", "buyer_city", "ville_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerCity = v }},
	{[]string{"buyercountrycode", "buyer_country_code", "pays_acheteur"}, func(r *model.InvoiceRecord, v string) { r.BuyerCountryCode = v }},
	{[]string{"currencycode", "currency_code", "devise"}, func(r *model.InvoiceRecord, v string) { r.CurrencyCode = v }},
	{[]string{"totalht", "total_ht", "ht"}, func(r *model.InvoiceRecord, v string) { r.TotalHT = v }},
	{[]string{"totaltva", "total_tva", "tva"}, func(r *model.InvoiceRecord, v string) { r.TotalTVA = v }},
	{[]string{"totalttc", "total_ttc", "ttc"}, func(r *model.InvoiceRecord, v string) { r.TotalTTC = v }},
	{[]string{"paymentterms", "payment_terms", "conditions"}, func(r *model.InvoiceRecord, v string) { r.PaymentTerms = v }},
	{[]string{"paymentduedate", "payment_due_date", "echeance"}, func(r *model.InvoiceRecord, v string) { r.PaymentDueDate = v }},
}

// applyDefaults fills country and currency fields absent from the manifest.
func applyDefaults(r *model.InvoiceRecord) {
	if r.SellerCountryCode == "" {
		r.SellerCountryCode = "FR"
	}
	if r.BuyerCountryCode == "" {
		r.BuyerCountryCode = "FR"
	}
	if r.CurrencyCode == "" {
		r.CurrencyCode = "EUR"
	}
}
