package cloud

import "strings"

// DefaultRegion is used when a region code is empty or unknown.
const DefaultRegion = "eu"

var regionHosts = map[string]string{
	"cn":   "openapi.tuyacn.com",
	"us":   "openapi.tuyaus.com",
	"az":   "openapi.tuyaus.com",
	"us-e": "openapi-ueaz.tuyaus.com",
	"ue":   "openapi-ueaz.tuyaus.com",
	"eu":   "openapi.tuyaeu.com",
	"eu-w": "openapi-weaz.tuyaeu.com",
	"we":   "openapi-weaz.tuyaeu.com",
	"in":   "openapi.tuyain.com",
	"sg":   "openapi-sg.iotbing.com",
}

// Region describes a selectable data center.
type Region struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Host        string `json:"host"`
}

var selectableRegions = []Region{
	{Code: "cn", Name: "China", Description: "China Data Center"},
	{Code: "us", Name: "US West", Description: "US - Western America Data Center"},
	{Code: "us-e", Name: "US East", Description: "US - Eastern America Data Center"},
	{Code: "eu", Name: "Central Europe", Description: "EU - Central Europe Data Center"},
	{Code: "eu-w", Name: "Western Europe", Description: "EU - Western Europe Data Center"},
	{Code: "in", Name: "India", Description: "India Data Center"},
	{Code: "sg", Name: "Singapore", Description: "Singapore Data Center"},
}

// HostForRegion maps a region code or alias to its API host.
func HostForRegion(code string) string {
	if host, ok := regionHosts[strings.ToLower(strings.TrimSpace(code))]; ok {
		return host
	}
	return regionHosts[DefaultRegion]
}

// Regions lists the selectable regions in display order.
func Regions() []Region {
	out := make([]Region, len(selectableRegions))
	for i, r := range selectableRegions {
		r.Host = regionHosts[r.Code]
		out[i] = r
	}
	return out
}
