package models

import "strings"

const (
	CategoryOther     = "other"
	DepartmentGeneral = "general"
	DepartmentCentral = "central_authority"
)

var categoryDepartments = map[string]string{
	"pothole":      "public_works",
	"road_damage":  "public_works",
	"drainage":     "public_works",
	"garbage":      "sanitation",
	"sewage":       "sanitation",
	"streetlight":  "electricity",
	"power_outage": "electricity",
	"water_supply": "water_board",
	"water_leak":   "water_board",
	"pollution":    "environment",
	"traffic":      "transport",
}

// NormalizeCategory lower-cases and snake-cases a classifier category.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.ReplaceAll(c, "-", "_")
	c = strings.ReplaceAll(c, " ", "_")
	if c == "" {
		return CategoryOther
	}
	return c
}

// DepartmentFor returns the department that owns category.
func DepartmentFor(category string) string {
	if d, ok := categoryDepartments[NormalizeCategory(category)]; ok {
		return d
	}
	return DepartmentGeneral
}
