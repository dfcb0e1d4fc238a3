package models

// Hotels is the fixed comparison set, in display order. The first entry is
// the operator's own property.
var Hotels = []Hotel{
	{Name: "Lennox Hotel", ID: "186029", Mine: true},
	{Name: "Canal Beagle Ushuaia", ID: "8017079", Mine: false},
	{Name: "Hotel Albatros Ushuaia", ID: "191446", Mine: false},
	{Name: "Cilene del Fuego", ID: "186028", Mine: false},
	{Name: "Los Cauquenes Resort", ID: "23805", Mine: false},
}

// ChartColors pairs with Hotels by index for chart rendering clients.
var ChartColors = []string{"#f0b429", "#34d399", "#60a5fa", "#f87171", "#c084fc"}

// CurrencySymbols maps supported currency codes to their display symbol.
var CurrencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"ARS": "$",
	"BRL": "R$",
	"MXN": "$",
}
