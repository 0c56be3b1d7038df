package models

// CountryCode is a dialing prefix offered when placing outbound calls.
type CountryCode struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// CountryCodes lists the supported dialing prefixes.
var CountryCodes = []CountryCode{
	{Name: "United States (+1)", Code: "+1"},
	{Name: "Canada (+1)", Code: "+1"},
	{Name: "United Kingdom (+44)", Code: "+44"},
	{Name: "India (+91)", Code: "+91"},
	{Name: "Australia (+61)", Code: "+61"},
	{Name: "Germany (+49)", Code: "+49"},
	{Name: "France (+33)", Code: "+33"},
	{Name: "Japan (+81)", Code: "+81"},
	{Name: "China (+86)", Code: "+86"},
	{Name: "Brazil (+55)", Code: "+55"},
	{Name: "Mexico (+52)", Code: "+52"},
	{Name: "Russia (+7)", Code: "+7"},
	{Name: "South Korea (+82)", Code: "+82"},
	{Name: "Italy (+39)", Code: "+39"},
	{Name: "Spain (+34)", Code: "+34"},
	{Name: "Netherlands (+31)", Code: "+31"},
	{Name: "Sweden (+46)", Code: "+46"},
	{Name: "Norway (+47)", Code: "+47"},
	{Name: "Denmark (+45)", Code: "+45"},
	{Name: "Finland (+358)", Code: "+358"},
	{Name: "Poland (+48)", Code: "+48"},
	{Name: "Turkey (+90)", Code: "+90"},
	{Name: "South Africa (+27)", Code: "+27"},
	{Name: "Egypt (+20)", Code: "+20"},
	{Name: "Nigeria (+234)", Code: "+234"},
	{Name: "Kenya (+254)", Code: "+254"},
	{Name: "Israel (+972)", Code: "+972"},
	{Name: "Saudi Arabia (+966)", Code: "+966"},
	{Name: "UAE (+971)", Code: "+971"},
	{Name: "Singapore (+65)", Code: "+65"},
	{Name: "Malaysia (+60)", Code: "+60"},
	{Name: "Thailand (+66)", Code: "+66"},
	{Name: "Philippines (+63)", Code: "+63"},
	{Name: "Indonesia (+62)", Code: "+62"},
	{Name: "Vietnam (+84)", Code: "+84"},
	{Name: "Argentina (+54)", Code: "+54"},
	{Name: "Chile (+56)", Code: "+56"},
	{Name: "Colombia (+57)", Code: "+57"},
	{Name: "Peru (+51)", Code: "+51"},
	{Name: "Venezuela (+58)", Code: "+58"},
}
