package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Settings keys recognised by the bot. Every key maps to one concrete Go
// shape; anything else in the settings table is rejected at this boundary
// instead of leaking loosely-typed values into the flow engine.
const (
	SettingMenuGroups = "menu_groups"
	SettingPricing    = "pricing"
	SettingBranding   = "branding"
)

// DecodeSetting validates and decodes a raw settings value for a known key.
// The returned value is one of []MenuGroup, map[string]float64, or Branding.
func DecodeSetting(key string, raw []byte) (any, error) {
	switch key {
	case SettingMenuGroups:
		return DecodeMenuGroups(raw)
	case SettingPricing:
		return DecodePricing(raw)
	case SettingBranding:
		return DecodeBranding(raw)
	default:
		return nil, fmt.Errorf("settings: unknown key %q", key)
	}
}

// DecodeMenuGroups parses the menu_groups setting, dropping groups without
// options and filling missing ids/keys/titles the way the dashboard expects.
func DecodeMenuGroups(raw []byte) ([]MenuGroup, error) {
	var groups []MenuGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("settings: menu_groups malformed: %w", err)
	}
	out := make([]MenuGroup, 0, len(groups))
	for i, g := range groups {
		if len(g.Options) == 0 {
			continue
		}
		if g.ID == "" {
			g.ID = fmt.Sprintf("group_%d", i)
		}
		if g.Key == "" {
			g.Key = g.ID
		}
		if g.Title == "" {
			g.Title = fmt.Sprintf("Option Group %d", i+1)
		}
		for j, opt := range g.Options {
			if strings.TrimSpace(opt.Name) == "" {
				return nil, fmt.Errorf("settings: menu_groups[%d].options[%d] has no name", i, j)
			}
			if opt.Price < 0 {
				return nil, fmt.Errorf("settings: menu_groups[%d].options[%d] has negative price", i, j)
			}
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("settings: menu_groups has no usable groups")
	}
	return out, nil
}

// DecodePricing parses the pricing setting: item name to unit price.
func DecodePricing(raw []byte) (map[string]float64, error) {
	var table map[string]float64
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("settings: pricing malformed: %w", err)
	}
	for name, price := range table {
		if price < 0 {
			return nil, fmt.Errorf("settings: pricing[%q] is negative", name)
		}
	}
	return table, nil
}

// DecodeBranding parses the branding setting.
func DecodeBranding(raw []byte) (Branding, error) {
	var b Branding
	if err := json.Unmarshal(raw, &b); err != nil {
		return Branding{}, fmt.Errorf("settings: branding malformed: %w", err)
	}
	if strings.TrimSpace(b.Title) == "" {
		return Branding{}, fmt.Errorf("settings: branding has empty title")
	}
	return b, nil
}
