package storyblok

import (
	"fmt"
	"sort"
	"strings"
)

// Region selects the management API host serving a space.
type Region string

const (
	RegionEU Region = "eu"
	RegionUS Region = "us"
	RegionCA Region = "ca"
	RegionAU Region = "au"
	RegionCN Region = "cn"

	DefaultRegion = RegionEU
)

// MaxPerPage is the largest page size the management API accepts.
const MaxPerPage = 100

var regionBaseURLs = map[Region]string{
	RegionEU: "https://mapi.storyblok.com",
	RegionUS: "https://api-us.storyblok.com",
	RegionCA: "https://api-ca.storyblok.com",
	RegionAU: "https://api-ap.storyblok.com",
	RegionCN: "https://app.storyblokchina.cn",
}

// ParseRegion validates a region name (case-insensitive).
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := regionBaseURLs[r]; !ok {
		return "", fmt.Errorf("unknown region %q (expected one of %s)", s, strings.Join(RegionNames(), ", "))
	}
	return r, nil
}

// BaseURL returns the management API root for the region.
func (r Region) BaseURL() string {
	return regionBaseURLs[r]
}

// RegionNames lists the supported regions in stable order.
func RegionNames() []string {
	names := make([]string, 0, len(regionBaseURLs))
	for r := range regionBaseURLs {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return names
}
